package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is a decoded server envelope.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient is a WebSocket test client for end-to-end tests.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url, which may use the http or ws scheme.
//
// Precondition: A server must be accepting upgrades at url.
// Postcondition: Returns a connected client or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	c, resp, err := DialWS(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return &WSClient{conn: c, t: t}
}

// DialWS dials url with header and returns the raw connection and handshake response.
func DialWS(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	url = strings.Replace(url, "http://", "ws://", 1)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(url, header)
}

// Send writes one action envelope.
func (c *WSClient) Send(actionType string, payload any) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("encoding %s payload: %v", actionType, err)
	}
	c.SendRaw(mustJSON(c.t, Frame{Type: actionType, Payload: raw}))
}

// SendRaw writes data as one text frame.
func (c *WSClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("sending frame: %v", err)
	}
}

// Read returns the next frame or fails the test after timeout.
func (c *WSClient) Read(timeout time.Duration) Frame {
	c.t.Helper()
	f, err := c.TryRead(timeout)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return f
}

// TryRead returns the next frame or the read error, including close errors.
func (c *WSClient) TryRead(timeout time.Duration) (Frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// ReadUntil reads frames until one of frameType arrives, discarding the rest.
func (c *WSClient) ReadUntil(frameType string, timeout time.Duration) Frame {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %q", frameType)
		}
		f := c.Read(remaining)
		if f.Type == frameType {
			return f
		}
	}
}

// Close sends a normal close frame and closes the socket.
func (c *WSClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	return b
}
