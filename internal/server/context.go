package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/teemow/planfewer/internal/agenda"
	"github.com/teemow/planfewer/internal/instrumentation"
	"github.com/teemow/planfewer/internal/mcp/oauth"
)

// AgendaState is the per-session state built by the session factory: one
// Tasks client and one Calendar client sharing an authenticated HTTP client.
type AgendaState struct {
	Tasks    *agenda.TasksClient
	Calendar *agenda.CalendarClient
}

// ServerContext holds the shared state for the MCP server: the session
// coordinator, metrics, and the shutdown signal.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sessions *SessionCoordinator
	metrics  *instrumentation.Metrics
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, sessions *SessionCoordinator, metrics *instrumentation.Metrics) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}

	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		sessions: sessions,
		metrics:  metrics,
	}
}

// Context returns the server context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Sessions returns the session coordinator.
func (sc *ServerContext) Sessions() *SessionCoordinator {
	return sc.sessions
}

// Metrics returns the metrics recorder.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// SessionFor resolves the session for an authenticated request, creating it
// on first touch. The session is keyed by the token's unique ID, so each
// issued token gets its own session and session lifetime never outlives the
// token rotation.
func (sc *ServerContext) SessionFor(ctx context.Context) (*Session, *AgendaState, error) {
	ac := oauth.AuthContextFrom(ctx)
	if ac == nil {
		return nil, nil, fmt.Errorf("request is not authenticated")
	}

	session, err := sc.sessions.Acquire(ctx, ac.TokenID, ac.ClientID)
	if err != nil {
		return nil, nil, err
	}

	state, ok := session.State.(*AgendaState)
	if !ok {
		return nil, nil, fmt.Errorf("session has no agenda state")
	}
	return session, state, nil
}

// IsShutdown returns whether the server has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context and evicts all sessions.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	sc.cancel()
	if sc.sessions != nil {
		sc.sessions.Stop()
	}
	return nil
}
