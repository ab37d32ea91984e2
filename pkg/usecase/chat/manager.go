package chat

import (
	"context"
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var ErrSessionNotFound = goerr.New("chat session not found")

// DefaultIdleTimeout is how long a session without activity stays mounted
const DefaultIdleTimeout = 30 * time.Minute

type managedSession struct {
	session  *Session
	lastSeen time.Time
}

// Manager keeps the mounted sessions of the service. Sessions that were not touched
// for the idle timeout are unmounted by Sweep.
type Manager struct {
	base NewInput
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[model.SessionID]*managedSession
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithIdleTimeout overrides DefaultIdleTimeout
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager whose sessions share base. Page and User are set per
// session by Open.
func NewManager(base NewInput, opts ...ManagerOption) *Manager {
	m := &Manager{
		base:     base,
		idle:     DefaultIdleTimeout,
		now:      time.Now,
		sessions: make(map[model.SessionID]*managedSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open mounts a new session for page and user
func (m *Manager) Open(ctx context.Context, page *model.Page, user *model.User) (*Session, error) {
	input := m.base
	input.Page = page
	input.User = user

	s, err := New(ctx, input)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = &managedSession{session: s, lastSeen: m.now()}
	m.mu.Unlock()
	return s, nil
}

// Get returns a mounted session and marks it active
func (m *Manager) Get(id model.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, goerr.Wrap(ErrSessionNotFound, "cannot get session", goerr.V("session_id", id))
	}
	entry.lastSeen = m.now()
	return entry.session, nil
}

// Len returns the number of mounted sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close unmounts one session
func (m *Manager) Close(ctx context.Context, id model.SessionID) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return goerr.Wrap(ErrSessionNotFound, "cannot close session", goerr.V("session_id", id))
	}
	return entry.session.Close(ctx)
}

// Sweep unmounts idle sessions and returns how many were closed. A session whose
// agent is still working is never idle.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, entry := range m.sessions {
		if entry.session.Busy() {
			entry.lastSeen = now
			continue
		}
		if now.Sub(entry.lastSeen) >= m.idle {
			expired = append(expired, entry.session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Close(ctx); err != nil {
			logging.From(ctx).Warn("failed to close idle session", "session_id", s.ID(), "error", err)
		}
	}
	return len(expired)
}

// Run sweeps every interval until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				logging.From(ctx).Info("closed idle chat sessions", "count", n)
			}
		}
	}
}

// Shutdown unmounts every session
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, entry := range m.sessions {
		sessions = append(sessions, entry.session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			logging.From(ctx).Warn("failed to close session on shutdown", "session_id", s.ID(), "error", err)
		}
	}
}
