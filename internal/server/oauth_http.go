package server

import (
	"context"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/planfewer/internal/mcp/oauth"
)

// OAuthHTTPServer serves the OAuth 2.1 authorization endpoints and the
// OAuth-protected MCP endpoint on one port. It acts as both the
// authorization server (issuing tokens) and the resource server (validating
// them in front of /mcp).
type OAuthHTTPServer struct {
	mcpServer   *mcpserver.MCPServer
	authzServer *oauth.AuthorizationServer
	sessions    *SessionCoordinator
	health      *HealthChecker
	httpServer  *http.Server
}

// NewOAuthHTTPServer creates the combined HTTP server.
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, authzServer *oauth.AuthorizationServer, sessions *SessionCoordinator, health *HealthChecker) *OAuthHTTPServer {
	return &OAuthHTTPServer{
		mcpServer:   mcpServer,
		authzServer: authzServer,
		sessions:    sessions,
		health:      health,
	}
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *OAuthHTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	limit := s.authzServer.RateLimitMiddleware

	// Discovery metadata (RFC 8414 and RFC 9728)
	mux.Handle("/.well-known/oauth-authorization-server",
		limit(http.HandlerFunc(s.authzServer.ServeAuthorizationServerMetadata)))
	mux.Handle("/.well-known/oauth-protected-resource",
		limit(http.HandlerFunc(s.authzServer.ServeProtectedResourceMetadata)))

	// OAuth endpoints
	mux.Handle("/oauth/register", limit(http.HandlerFunc(s.authzServer.ServeRegister)))
	mux.Handle("/oauth/authorize", limit(http.HandlerFunc(s.authzServer.ServeAuthorize)))
	mux.Handle("/oauth/token", limit(http.HandlerFunc(s.authzServer.ServeToken)))
	mux.Handle("/oauth/introspect", limit(http.HandlerFunc(s.authzServer.ServeIntrospect)))
	mux.Handle("/oauth/revoke", limit(http.HandlerFunc(s.authzServer.ServeRevoke)))

	// Protected MCP endpoint
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath("/mcp"),
	)
	mux.Handle("/mcp", limit(s.authzServer.RequireToken(s.teardownOnDelete(streamable))))

	// Health endpoints for probes
	if s.health != nil {
		s.health.RegisterHealthEndpoints(mux)
	}

	return mux
}

// teardownOnDelete evicts the caller's working session when the client ends
// it with an HTTP DELETE, then lets the MCP transport finish its own session
// termination.
func (s *OAuthHTTPServer) teardownOnDelete(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && s.sessions != nil {
			if ac := oauth.AuthContextFrom(r.Context()); ac != nil {
				s.sessions.Evict(ac.TokenID, "client teardown")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it exits.
func (s *OAuthHTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
