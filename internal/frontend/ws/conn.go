package ws

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/session"
)

// Conn pumps frames between one WebSocket and its Session. One goroutine
// reads and dispatches; one goroutine writes from the session outbox.
type Conn struct {
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger
}

// NewConn wraps an upgraded WebSocket.
//
// Precondition: ws must be open; logger must be non-nil.
func NewConn(ws *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *Conn {
	return &Conn{ws: ws, cfg: cfg, logger: logger}
}

// Serve runs the connection until the peer goes away, a join fails, or ctx
// is cancelled.
//
// Postcondition: sess is closed, the write loop has exited, and the socket is closed.
func (c *Conn) Serve(ctx context.Context, sess *session.Session) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(sess.Outbox().Events())
	}()

	stop := context.AfterFunc(ctx, func() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = c.ws.Close()
	})
	defer stop()

	c.readPump(ctx, sess)
	sess.Close()
	<-done
	_ = c.ws.Close()
}

func (c *Conn) readPump(ctx context.Context, sess *session.Session) {
	if c.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(c.cfg.ReadLimit)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.extendReadDeadline()
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		if err := sess.Handle(ctx, data); err != nil {
			if errors.Is(err, session.ErrFatalJoin) {
				c.closeWith(websocket.ClosePolicyViolation, session.ErrFatalJoin.Error())
			}
			c.logger.Info("closing connection", zap.Error(err))
			return
		}
	}
}

func (c *Conn) writePump(events <-chan []byte) {
	var tick <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data, ok := <-events:
			if !ok {
				c.closeWith(websocket.CloseNormalClosure, "")
				return
			}
			if c.cfg.WriteTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

// closeWith sends a close frame. WriteControl may run concurrently with the write loop.
func (c *Conn) closeWith(code int, text string) {
	err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), c.deadline())
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("sending close frame", zap.Int("code", code), zap.Error(err))
	}
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

func (c *Conn) deadline() time.Time {
	if c.cfg.WriteTimeout > 0 {
		return time.Now().Add(c.cfg.WriteTimeout)
	}
	return time.Now().Add(time.Second)
}

func (c *Conn) logReadError(err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("peer closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		c.logger.Info("read timeout", zap.Error(err))
	default:
		c.logger.Debug("read ended", zap.Error(err))
	}
}
