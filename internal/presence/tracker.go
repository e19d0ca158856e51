// Package presence tracks short-lived per-user indicators (typing, emoji
// reactions) whose liveness is decided at read time against a TTL.
package presence

import (
	"sync"
	"time"
)

// Kind distinguishes the independent presence slots a user has.
type Kind string

const (
	Typing Kind = "typing"
	Emoji  Kind = "emoji"
)

// Default TTLs.
const (
	TypingTTL = 3 * time.Second
	EmojiTTL  = 5 * time.Second
)

// Entry is one presence indicator for a user.
type Entry struct {
	UserID    string
	Kind      Kind
	Glyph     string
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant after which the entry is no longer live.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Live reports whether now - CreatedAt < TTL.
func (e Entry) Live(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

type key struct {
	userID string
	kind   Kind
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock used for CreatedAt and liveness.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTTL overrides the TTL for kind.
func WithTTL(kind Kind, ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl[kind] = ttl }
}

// Tracker holds presence entries keyed by (user id, kind).
// All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	ttl     map[Kind]time.Duration
	entries map[key]Entry
	timers  map[key]*time.Timer
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:     time.Now,
		ttl:     map[Kind]time.Duration{Typing: TypingTTL, Emoji: EmojiTTL},
		entries: make(map[key]Entry),
		timers:  make(map[key]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Upsert records a fresh entry for (userID, kind), replacing any previous one,
// and schedules a best-effort removal after the TTL.
//
// Precondition: userID must be non-empty.
// Postcondition: Get(userID, kind) returns the new entry until its TTL elapses.
func (t *Tracker) Upsert(userID string, kind Kind, glyph string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{userID: userID, kind: kind}
	e := Entry{
		UserID:    userID,
		Kind:      kind,
		Glyph:     glyph,
		CreatedAt: t.now(),
		TTL:       t.ttl[kind],
	}
	t.entries[k] = e

	if old, ok := t.timers[k]; ok {
		old.Stop()
	}
	created := e.CreatedAt
	t.timers[k] = time.AfterFunc(e.TTL, func() { t.expire(k, created) })
	return e
}

// expire removes k only if it still holds the entry created at created.
// A newer Upsert for the same key wins.
func (t *Tracker) expire(k key, created time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[k]; ok && e.CreatedAt.Equal(created) {
		delete(t.entries, k)
		delete(t.timers, k)
	}
}

// Get returns the live entry for (userID, kind).
//
// Postcondition: ok is false if there is no entry or its TTL has elapsed,
// regardless of whether cleanup has run.
func (t *Tracker) Get(userID string, kind Kind) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key{userID: userID, kind: kind}]
	if !ok || !e.Live(t.now()) {
		return Entry{}, false
	}
	return e, true
}

// Clear drops every entry for userID and cancels their cleanup timers.
func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.userID != userID {
			continue
		}
		delete(t.entries, k)
		if tm, ok := t.timers[k]; ok {
			tm.Stop()
			delete(t.timers, k)
		}
	}
}

// Len returns the number of stored entries, live or not yet cleaned up.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
