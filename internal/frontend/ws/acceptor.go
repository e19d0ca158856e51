// Package ws is the WebSocket gateway: an HTTP listener that upgrades
// clients and pumps frames between each socket and its session.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/session"
)

// StatsFunc reports the number of open rooms and joined connections.
type StatsFunc func() (rooms, occupants int)

// CheckFunc is a readiness probe reported by /healthz.
type CheckFunc func(ctx context.Context) error

// Acceptor serves WebSocket upgrades on cfg.Path and a health endpoint.
type Acceptor struct {
	cfg      config.WebSocketConfig
	sessions *session.Manager
	stats    StatsFunc
	logger   *zap.Logger
	upgrader websocket.Upgrader
	checks   map[string]CheckFunc

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates an Acceptor.
//
// Precondition: sessions, stats, and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for ListenAndServe or Handler.
func NewAcceptor(cfg config.WebSocketConfig, sessions *session.Manager, stats StatsFunc, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:      cfg,
		sessions: sessions,
		stats:    stats,
		logger:   logger,
		checks:   make(map[string]CheckFunc),
		quit:     make(chan struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// AddCheck registers a readiness probe. It must be called before serving.
func (a *Acceptor) AddCheck(name string, fn CheckFunc) {
	a.checks[name] = fn
}

// Handler returns the HTTP routes.
func (a *Acceptor) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog)
	r.GET("/healthz", a.health)
	r.GET(a.cfg.Path, a.upgrade)
	return r
}

// ListenAndServe listens on cfg.Addr() and serves until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.server = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket gateway listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop closes the listener, tells every connection to go away, and waits for
// all of them to finish.
//
// Postcondition: No connection goroutines remain.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	srv := a.server
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	a.wg.Wait()

	a.logger.Info("websocket gateway stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Acceptor) upgrade(c *gin.Context) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	ws, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		a.logger.Debug("upgrade failed", zap.String("remote_addr", c.ClientIP()), zap.Error(err))
		return
	}

	start := time.Now()
	sess := a.sessions.Open()
	logger := a.logger.With(zap.String("conn_id", sess.ConnID()), zap.String("remote_addr", c.ClientIP()))
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	NewConn(ws, a.cfg, logger).Serve(ctx, sess)

	logger.Info("client disconnected",
		zap.String("user_id", sess.UserID()),
		zap.Duration("duration", time.Since(start)),
	)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Rooms     int               `json:"rooms"`
	Occupants int               `json:"occupants"`
	Sessions  int               `json:"sessions"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (a *Acceptor) health(c *gin.Context) {
	rooms, occupants := a.stats()
	resp := healthResponse{
		Status:    "ok",
		Rooms:     rooms,
		Occupants: occupants,
		Sessions:  a.sessions.Count(),
	}
	code := http.StatusOK
	if len(a.checks) > 0 {
		resp.Checks = make(map[string]string, len(a.checks))
		for name, check := range a.checks {
			if err := check(c.Request.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	c.JSON(code, resp)
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(a.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (a *Acceptor) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	a.logger.Debug("http request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
