package session

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/plaza/internal/auth"
	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/presence"
	"github.com/cory-johannsen/plaza/internal/room"
)

// Options tunes per-session behavior.
type Options struct {
	// OutboxSize is the queued frame capacity of each connection.
	OutboxSize int
	// RateLimit and RateBurst bound the actions a joined session may send.
	// A zero RateLimit disables limiting.
	RateLimit rate.Limit
	RateBurst int
	// CollideStatic rejects moves onto static elements.
	CollideStatic bool
	// SpawnAttempts bounds the random search for a free spawn cell.
	SpawnAttempts int
	// Clock stamps chat messages. Defaults to time.Now.
	Clock func() time.Time
	// IntN returns a uniform int in [0,n). Defaults to math/rand/v2.IntN.
	IntN func(n int) int
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(sc config.SessionConfig, outboxSize int) Options {
	return Options{
		OutboxSize:    outboxSize,
		RateLimit:     rate.Limit(sc.RateLimit),
		RateBurst:     sc.RateBurst,
		CollideStatic: sc.CollideStatic,
		SpawnAttempts: sc.SpawnAttempts,
	}
}

// Manager creates sessions and tracks the live ones.
// All methods are safe for concurrent use.
type Manager struct {
	registry *room.Registry
	verifier auth.Verifier
	presence *presence.Tracker
	logger   *zap.Logger
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
//
// Precondition: registry, verifier, tracker, and logger must be non-nil.
func NewManager(registry *room.Registry, verifier auth.Verifier, tracker *presence.Tracker, logger *zap.Logger, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}
	if opts.SpawnAttempts < 1 {
		opts.SpawnAttempts = 1
	}
	return &Manager{
		registry: registry,
		verifier: verifier,
		presence: tracker,
		logger:   logger,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open creates an Unbound session with a fresh connection id.
//
// Postcondition: The session is tracked until it is closed.
func (m *Manager) Open() *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		mgr:    m,
		outbox: NewOutbox(id, m.opts.OutboxSize),
		logger: m.logger.With(zap.String("conn_id", id)),
	}
	if m.opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(m.opts.RateLimit, m.opts.RateBurst)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the live session with connID.
func (m *Manager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every live session.
//
// Postcondition: Count() == 0.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) forget(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connID)
}
