// Package session implements the per-connection protocol state machine:
// joining a space, validating actions, and fanning results out through the
// room registry.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// Outbox errors.
var (
	ErrOutboxFull   = errors.New("outbox full")
	ErrOutboxClosed = errors.New("outbox closed")
)

// Outbox is the bounded queue of frames awaiting delivery to one connection.
// The transport's write loop drains Events.
type Outbox struct {
	connID string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding up to size frames.
//
// Postcondition: Returns an open Outbox. Sizes below 1 use 64.
func NewOutbox(connID string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		connID: connID,
		events: make(chan []byte, size),
	}
}

// Push enqueues data without blocking.
//
// Postcondition: data is queued, or an error wrapping ErrOutboxFull or ErrOutboxClosed.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("connection %s: %w", o.connID, ErrOutboxClosed)
	}
	select {
	case o.events <- data:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", o.connID, ErrOutboxFull)
	}
}

// Events returns the channel the write loop reads from. It is closed by Close.
func (o *Outbox) Events() <-chan []byte {
	return o.events
}

// Close stops accepting frames and closes the events channel. Queued frames
// remain readable. Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
