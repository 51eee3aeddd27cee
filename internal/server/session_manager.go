package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/planfewer/internal/logging"
)

// Session lifetime defaults.
const (
	// DefaultSessionIdleTimeout is how long a session may sit untouched
	// before the sweep evicts it (30 minutes)
	DefaultSessionIdleTimeout = 30 * time.Minute

	// DefaultSessionSweepInterval is how often idle sessions are evicted (15 minutes)
	DefaultSessionSweepInterval = 15 * time.Minute

	// maxHistoryEntries is the history length that triggers a trim
	maxHistoryEntries = 100

	// trimmedHistoryEntries is the number of most recent entries kept after a trim
	trimmedHistoryEntries = 50
)

// ErrSessionNotFound is returned for operations on a session that does not
// exist, either because it was never created or because it was evicted.
var ErrSessionNotFound = errors.New("session not found")

// HistoryEntry records one tool invocation within a session.
type HistoryEntry struct {
	At     time.Time
	Tool   string
	Detail string
}

// Session is an active per-client working context. State carries whatever the
// factory built for it (service clients, caches); the coordinator never looks
// inside it.
type Session struct {
	ID         string
	ClientID   string
	State      any
	CreatedAt  time.Time
	LastAccess time.Time

	// history is guarded by the coordinator's lock; read it through
	// SessionCoordinator.History.
	history []HistoryEntry
}

// SessionFactory builds the per-session state when a session is first
// created. It runs outside the coordinator's lock and may block on I/O.
type SessionFactory func(ctx context.Context, sessionID, clientID string) (any, error)

// TeardownHook runs when a session is evicted, after it has been removed
// from the coordinator. Hooks must not call back into the coordinator.
type TeardownHook func(session *Session, reason string)

// pendingSession marks an in-flight creation. Concurrent first touches of the
// same session ID share one marker: the first caller runs the factory, the
// rest wait on done and read the shared result.
type pendingSession struct {
	done    chan struct{}
	session *Session
	err     error
}

// SessionCoordinator owns the session lifecycle: absent, pending while the
// factory runs, active, and finally evicted (idle timeout, explicit teardown,
// or shutdown). Creation is single-flight per session ID.
type SessionCoordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingSession

	factory       SessionFactory
	teardownHooks []TeardownHook

	idleTimeout   time.Duration
	sweepInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
	now           func() time.Time
}

// NewSessionCoordinator creates a coordinator and starts its idle sweep.
func NewSessionCoordinator(factory SessionFactory, idleTimeout, sweepInterval time.Duration, logger *slog.Logger) *SessionCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSessionSweepInterval
	}

	c := &SessionCoordinator{
		sessions:      make(map[string]*Session),
		pending:       make(map[string]*pendingSession),
		factory:       factory,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
		logger:        logger,
		now:           time.Now,
	}

	go c.sweep()

	return c
}

// OnTeardown registers a hook to run when sessions are evicted. Hooks must be
// registered before the coordinator starts serving requests.
func (c *SessionCoordinator) OnTeardown(hook TeardownHook) {
	c.teardownHooks = append(c.teardownHooks, hook)
}

// Acquire returns the session for the given ID, creating it on first touch.
//
// When several requests race to create the same session, exactly one runs the
// factory; the others block until it finishes and share its result. A factory
// error is delivered to every waiter and leaves the session absent, so a
// later request can retry cleanly.
func (c *SessionCoordinator) Acquire(ctx context.Context, sessionID, clientID string) (*Session, error) {
	c.mu.Lock()

	if session, ok := c.sessions[sessionID]; ok {
		session.LastAccess = c.now()
		c.mu.Unlock()
		return session, nil
	}

	if p, ok := c.pending[sessionID]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.session, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, fmt.Errorf("session coordinator is shutting down")
		}
	}

	p := &pendingSession{done: make(chan struct{})}
	c.pending[sessionID] = p
	c.mu.Unlock()

	// Factory runs outside the lock; it may do network I/O.
	state, err := c.factory(ctx, sessionID, clientID)

	c.mu.Lock()
	delete(c.pending, sessionID)
	if err != nil {
		p.err = fmt.Errorf("session bootstrap failed: %w", err)
		c.mu.Unlock()
		close(p.done)
		c.logger.Warn("session bootstrap failed",
			logging.SessionHash(sessionID),
			logging.ClientID(clientID),
			logging.Err(err),
		)
		return nil, p.err
	}

	now := c.now()
	session := &Session{
		ID:         sessionID,
		ClientID:   clientID,
		State:      state,
		CreatedAt:  now,
		LastAccess: now,
	}
	c.sessions[sessionID] = session
	p.session = session
	c.mu.Unlock()
	close(p.done)

	c.logger.Info("session created",
		logging.SessionHash(sessionID),
		logging.ClientID(clientID),
	)

	return session, nil
}

// Get returns an existing session without creating one. It refreshes the idle
// clock on hit.
func (c *SessionCoordinator) Get(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.LastAccess = c.now()
	return session, nil
}

// Record appends a history entry to a session. When the history reaches the
// bound it is trimmed to the most recent entries, so a long-lived session
// keeps a window of recent activity rather than growing without limit.
func (c *SessionCoordinator) Record(sessionID string, entry HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	if entry.At.IsZero() {
		entry.At = c.now()
	}
	session.history = append(session.history, entry)
	if len(session.history) >= maxHistoryEntries {
		trimmed := make([]HistoryEntry, trimmedHistoryEntries)
		copy(trimmed, session.history[len(session.history)-trimmedHistoryEntries:])
		session.history = trimmed
	}
	return nil
}

// History returns a copy of a session's recorded history, oldest first.
func (c *SessionCoordinator) History(sessionID string) ([]HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]HistoryEntry, len(session.history))
	copy(out, session.history)
	return out, nil
}

// Evict removes a session and runs the teardown hooks. Evicting an absent
// session is not an error.
func (c *SessionCoordinator) Evict(sessionID, reason string) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.runTeardown(session, reason)
	c.logger.Info("session evicted",
		logging.SessionHash(sessionID),
		"reason", reason,
	)
}

// Count returns the number of active sessions.
func (c *SessionCoordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ListSessions returns all active session IDs.
func (c *SessionCoordinator) ListSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop stops the sweep and evicts every remaining session.
func (c *SessionCoordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		remaining := make([]*Session, 0, len(c.sessions))
		for id, session := range c.sessions {
			remaining = append(remaining, session)
			delete(c.sessions, id)
		}
		c.mu.Unlock()

		for _, session := range remaining {
			c.runTeardown(session, "shutdown")
		}
	})
}

func (c *SessionCoordinator) runTeardown(session *Session, reason string) {
	for _, hook := range c.teardownHooks {
		hook(session, reason)
	}
}

// sweep periodically evicts sessions idle past the timeout.
func (c *SessionCoordinator) sweep() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictIdle()
		case <-c.done:
			return
		}
	}
}

func (c *SessionCoordinator) evictIdle() {
	c.mu.Lock()
	now := c.now()
	var idle []*Session
	for id, session := range c.sessions {
		if now.Sub(session.LastAccess) > c.idleTimeout {
			idle = append(idle, session)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, session := range idle {
		c.runTeardown(session, "idle timeout")
	}

	if len(idle) > 0 {
		c.logger.Info("evicted idle sessions", "count", len(idle))
	}
}
