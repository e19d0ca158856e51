// Package protocol defines the JSON wire format exchanged with clients: a
// {"type","payload"} envelope, the closed set of client actions, and the
// server event payloads.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed message")

// Envelope is the outer frame of every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a server-to-client payload.
type Event interface {
	EventType() string
}

// rawFramer is implemented by events that write their own frame, so that
// embedded raw JSON reaches the client without re-encoding.
type rawFramer interface {
	frame() ([]byte, error)
}

// Encode wraps ev in an envelope.
//
// Postcondition: Returns the JSON frame or a marshalling error.
func Encode(ev Event) ([]byte, error) {
	if f, ok := ev.(rawFramer); ok {
		return f.frame()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(Envelope{Type: ev.EventType(), Payload: payload})
}

// MustEncode is Encode for events whose payloads cannot fail to marshal.
func MustEncode(ev Event) []byte {
	b, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a client frame into its Action.
//
// Postcondition: Returns a non-nil Action, or an error wrapping ErrMalformed
// for invalid JSON, unknown types, or payloads that do not fit their type.
func Decode(raw []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newAction, ok := actionTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	a := newAction()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, a); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return a, nil
}

// marshalNoEscape encodes v without HTML escaping and without the trailing newline.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
