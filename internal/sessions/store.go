// Package sessions tracks conversational sessions and the interactive
// subprocess each one owns. Sessions are created on demand, touched on every
// turn, and evicted by a janitor after a period of inactivity so abandoned
// subprocesses do not accumulate.
package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weber8thomas/claude-hands-free/internal/bridge"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrCapacity = errors.New("session capacity exceeded")
)

// Session is the caller-visible view of one conversation.
type Session struct {
	ID             string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Turns          int       `json:"turns"`
}

type entry struct {
	meta   Session
	bridge *bridge.Bridge
}

// BridgeFactory builds the subprocess bridge backing a new session.
type BridgeFactory func(sessionID string) *bridge.Bridge

// Options tune store limits.
type Options struct {
	// IdleTimeout evicts sessions with no activity for this long.
	IdleTimeout time.Duration
	// MaxSessions caps live sessions; 0 means a conservative default.
	MaxSessions int
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 16
	}
	return o
}

type Store struct {
	opts      Options
	newBridge BridgeFactory

	mu      sync.RWMutex
	entries map[string]*entry
	onEvict func(Session)
}

func NewStore(opts Options, factory BridgeFactory) *Store {
	return &Store{
		opts:      opts.withDefaults(),
		newBridge: factory,
		entries:   make(map[string]*entry),
	}
}

// SetEvictHook registers a callback invoked after a session is evicted.
func (s *Store) SetEvictHook(hook func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = hook
}

// GetOrCreate returns the session named by id, creating it when id is empty
// or unknown. A missing id never fails; only the capacity cap does.
func (s *Store) GetOrCreate(id string) (Session, *bridge.Bridge, bool, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if e, ok := s.entries[id]; ok {
			e.meta.LastActivityAt = time.Now().UTC()
			return e.meta, e.bridge, false, nil
		}
	}
	if len(s.entries) >= s.opts.MaxSessions {
		return Session{}, nil, false, ErrCapacity
	}

	for id == "" {
		if candidate := newSessionID(); s.entries[candidate] == nil {
			id = candidate
		}
	}
	now := time.Now().UTC()
	e := &entry{
		meta:   Session{ID: id, CreatedAt: now, LastActivityAt: now},
		bridge: s.newBridge(id),
	}
	s.entries[id] = e
	return e.meta, e.bridge, true, nil
}

// Get looks up an existing session without creating one.
func (s *Store) Get(id string) (Session, *bridge.Bridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Session{}, nil, ErrNotFound
	}
	return e.meta, e.bridge, nil
}

// RecordTurn bumps the session's turn counter and activity stamp.
func (s *Store) RecordTurn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.meta.Turns++
		e.meta.LastActivityAt = time.Now().UTC()
	}
}

// Clear restarts a session's conversation by tearing down its subprocess and
// installing a fresh bridge. Clearing a session that does not exist is a
// no-op, so retried clears are safe.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	var old *bridge.Bridge
	if ok {
		old = e.bridge
		e.bridge = s.newBridge(id)
		e.meta.Turns = 0
		e.meta.LastActivityAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// Remove evicts one session and closes its subprocess.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return e.bridge.Close()
}

// List snapshots all live sessions.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.meta)
	}
	return out
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartJanitor evicts idle sessions on a ticker until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictIdle()
			}
		}
	}()
}

// CloseAll tears down every session, for shutdown.
func (s *Store) CloseAll() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, e)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		_ = e.bridge.Close()
	}
}

func (s *Store) evictIdle() {
	now := time.Now().UTC()

	s.mu.Lock()
	var evicted []*entry
	for id, e := range s.entries {
		if now.Sub(e.meta.LastActivityAt) < s.opts.IdleTimeout {
			continue
		}
		evicted = append(evicted, e)
		delete(s.entries, id)
	}
	hook := s.onEvict
	s.mu.Unlock()

	for _, e := range evicted {
		_ = e.bridge.Close()
		if hook != nil {
			hook(e.meta)
		}
	}
}

// newSessionID returns a short id that is easy to pass around in URLs and
// logs.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
