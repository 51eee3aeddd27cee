package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/teemow/planfewer/internal/instrumentation"
	"github.com/teemow/planfewer/internal/storage"
)

// AuthorizationServer implements a self-contained OAuth 2.1 authorization
// server. It supports the PKCE-protected authorization code flow and the
// client credentials flow, plus dynamic client registration, introspection,
// revocation, and discovery metadata.
type AuthorizationServer struct {
	config      *Config
	registry    *ClientRegistry
	codes       *CodeStore
	tokens      *TokenStore
	rateLimiter *RateLimiter
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
}

// NewAuthorizationServer creates an authorization server backed by the given
// client store. Call Load before serving requests and Stop on shutdown.
func NewAuthorizationServer(config *Config, clientStore storage.ClientStore) (*AuthorizationServer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid oauth config: %w", err)
	}

	logger := config.Logger

	var rateLimiter *RateLimiter
	if config.RateLimit.Rate > 0 {
		rateLimiter = NewRateLimiter(
			config.RateLimit.Rate,
			config.RateLimit.Burst,
			config.RateLimit.TrustProxy,
			config.RateLimit.CleanupInterval,
			logger,
		)
		logger.Info("IP-based rate limiting enabled",
			"rate", config.RateLimit.Rate,
			"burst", config.RateLimit.Burst,
		)
	}

	return &AuthorizationServer{
		config:      config,
		registry:    NewClientRegistry(clientStore, logger),
		codes:       NewCodeStore(config.AuthorizationCodeTTL, config.SweepInterval, logger),
		tokens:      NewTokenStore(config.AccessTokenTTL, config.SweepInterval, logger),
		rateLimiter: rateLimiter,
		metrics:     config.Metrics,
		logger:      logger,
	}, nil
}

// Load reads persisted client registrations into memory. It must complete
// before the HTTP surface starts serving; requests against a half-loaded
// registry would reject valid clients.
func (s *AuthorizationServer) Load(ctx context.Context) error {
	return s.registry.Load(ctx)
}

// Stop stops all background sweeps.
func (s *AuthorizationServer) Stop() {
	s.codes.Stop()
	s.tokens.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Registry returns the client registry.
func (s *AuthorizationServer) Registry() *ClientRegistry {
	return s.registry
}

// Tokens returns the token store, used by the resource-server middleware.
func (s *AuthorizationServer) Tokens() *TokenStore {
	return s.tokens
}

// Config returns the server configuration.
func (s *AuthorizationServer) Config() *Config {
	return s.config
}

// ServeAuthorizationServerMetadata serves RFC 8414 authorization server
// metadata at /.well-known/oauth-authorization-server.
func (s *AuthorizationServer) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata := AuthorizationServerMetadata{
		Issuer:                            s.config.Issuer,
		AuthorizationEndpoint:             s.config.Issuer + "/oauth/authorize",
		TokenEndpoint:                     s.config.Issuer + "/oauth/token",
		RegistrationEndpoint:              s.config.Issuer + "/oauth/register",
		IntrospectionEndpoint:             s.config.Issuer + "/oauth/introspect",
		RevocationEndpoint:                s.config.Issuer + "/oauth/revoke",
		ScopesSupported:                   s.config.SupportedScopes,
		ResponseTypesSupported:            SupportedResponseTypes,
		GrantTypesSupported:               SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
	}

	s.writeJSON(w, http.StatusOK, metadata)
}

// ServeProtectedResourceMetadata serves RFC 9728 protected resource metadata
// at /.well-known/oauth-protected-resource. MCP clients fetch this after a
// 401 challenge to discover the authorization server.
func (s *AuthorizationServer) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata := ProtectedResourceMetadata{
		Resource:               s.config.Issuer,
		AuthorizationServers:   []string{s.config.Issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        s.config.SupportedScopes,
	}

	s.writeJSON(w, http.StatusOK, metadata)
}

// ServeRegister handles dynamic client registration (RFC 7591).
// POST /oauth/register
func (s *AuthorizationServer) ServeRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := getClientIP(r, s.config.RateLimit.TrustProxy)
	if err := s.registry.CheckIPLimit(r.Context(), clientIP, s.config.MaxClientsPerIP); err != nil {
		s.logger.Warn("client registration rejected", "client_ip", clientIP, "error", err)
		s.writeError(w, ErrInvalidRequest("Client registration limit reached"))
		return
	}

	var req ClientRegistrationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}

	resp, oerr := s.registry.Register(r.Context(), &req, clientIP)
	if oerr != nil {
		s.writeError(w, oerr)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// ServeAuthorize handles the authorization endpoint.
// GET /oauth/authorize
//
// The validation order matters: parameter presence, the client, and the
// redirect target are checked first and their failures are returned directly,
// never via redirect. Only once the redirect target is known-good are
// remaining failures delivered as error redirects with the client's state
// echoed back.
func (s *AuthorizationServer) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	state := q.Get("state")

	for _, p := range []struct{ name, value string }{
		{"client_id", clientID},
		{"response_type", responseType},
		{"redirect_uri", redirectURI},
		{"code_challenge", codeChallenge},
		{"code_challenge_method", codeChallengeMethod},
	} {
		if p.value == "" {
			s.writeError(w, ErrInvalidRequest(p.name+" is required"))
			return
		}
	}

	if _, err := s.registry.GetClient(clientID); err != nil {
		s.writeError(w, ErrInvalidClient("Unknown client"))
		return
	}
	if err := s.registry.ValidateRedirectURI(clientID, redirectURI); err != nil {
		s.writeError(w, ErrInvalidRedirectURI("redirect_uri is not registered for this client"))
		return
	}

	// From here on the redirect target is trusted; errors go back to it.
	if responseType != "code" {
		s.redirectError(w, r, redirectURI,
			ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", responseType)), state)
		return
	}
	if codeChallengeMethod != "S256" {
		s.redirectError(w, r, redirectURI,
			ErrInvalidRequest("code_challenge_method must be S256"), state)
		return
	}

	code, err := s.codes.Issue(clientID, redirectURI, codeChallenge)
	if err != nil {
		s.logger.Error("failed to issue authorization code", "error", err)
		s.redirectError(w, r, redirectURI, ErrServerError("Failed to issue authorization code"), state)
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		s.writeError(w, ErrServerError("invalid redirect target"))
		return
	}
	params := target.Query()
	params.Set("code", code.Code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()

	s.setSecurityHeaders(w)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ServeToken handles the token endpoint.
// POST /oauth/token with application/x-www-form-urlencoded body
func (s *AuthorizationServer) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, ErrInvalidRequest("Invalid form body"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case GrantAuthorizationCode:
		s.handleAuthorizationCodeGrant(w, r)
	case GrantClientCredentials:
		s.handleClientCredentialsGrant(w, r)
	case "":
		s.writeError(w, ErrInvalidRequest("grant_type is required"))
	default:
		s.writeError(w, ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", grantType)))
	}
}

// handleAuthorizationCodeGrant exchanges an authorization code for a token.
func (s *AuthorizationServer) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	grant, oerr := s.exchangeAuthorizationCode(r)
	if oerr != nil {
		s.metrics.RecordCodeExchange(r.Context(), instrumentation.ResultFailure)
		s.writeError(w, oerr)
		return
	}

	s.metrics.RecordCodeExchange(r.Context(), instrumentation.ResultSuccess)
	s.mintAndRespond(w, r, grant)
}

// exchangeAuthorizationCode validates an authorization_code token request and
// returns the grant to mint for.
//
// The code is inspected without consuming it while the request is validated;
// consumption happens last, atomically, so a code is only burned by the one
// request that passed every check. Concurrent exchanges of the same code race
// on Consume and exactly one wins.
func (s *AuthorizationServer) exchangeAuthorizationCode(r *http.Request) (Grant, *OAuthError) {
	codeValue := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	clientID := r.PostFormValue("client_id")
	codeVerifier := r.PostFormValue("code_verifier")

	if codeValue == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if redirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}
	if codeVerifier == "" {
		return nil, ErrInvalidRequest("code_verifier is required")
	}

	client, err := s.registry.GetClient(clientID)
	if err != nil {
		return nil, ErrInvalidClient("Unknown client")
	}
	if !client.Public() {
		if err := s.registry.ValidateClientSecret(clientID, r.PostFormValue("client_secret")); err != nil {
			return nil, ErrInvalidClient("Client authentication failed")
		}
	}

	code, err := s.codes.Peek(codeValue)
	if err != nil {
		return nil, ErrInvalidGrant("Authorization code is invalid, expired, or already used")
	}
	if code.ClientID != clientID {
		return nil, ErrInvalidGrant("Authorization code was issued to a different client")
	}
	if code.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := ValidateCodeVerifier(codeVerifier); err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}
	if !VerifyCodeChallenge(codeVerifier, code.CodeChallenge) {
		return nil, ErrInvalidGrant("PKCE verification failed")
	}

	// All checks passed; burn the code. A concurrent exchange may have won
	// the race since Peek, in which case this request loses.
	if _, err := s.codes.Consume(codeValue); err != nil {
		return nil, ErrInvalidGrant("Authorization code is invalid, expired, or already used")
	}

	return AuthorizationCodeGrant{
		ClientID:    clientID,
		Code:        codeValue,
		RedirectURI: redirectURI,
	}, nil
}

// handleClientCredentialsGrant mints a token directly from a client identity.
// Confidential clients must authenticate with their secret; a public client
// has no secret and mints on client_id alone, at the weaker assurance this
// grant advertises.
func (s *AuthorizationServer) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		s.writeError(w, ErrInvalidRequest("client_id is required"))
		return
	}

	client, err := s.registry.GetClient(clientID)
	if err != nil {
		s.writeError(w, ErrInvalidClient("Unknown client"))
		return
	}
	if !client.Public() {
		if err := s.registry.ValidateClientSecret(clientID, r.PostFormValue("client_secret")); err != nil {
			s.writeError(w, ErrInvalidClient("Client authentication failed"))
			return
		}
	}

	s.mintAndRespond(w, r, ClientCredentialsGrant{ClientID: clientID})
}

// mintAndRespond mints a token for the grant and writes the token response.
// Both grants currently receive the full configured scope set.
func (s *AuthorizationServer) mintAndRespond(w http.ResponseWriter, r *http.Request, grant Grant) {
	token, err := s.tokens.Mint(grant, NewScopeSet(s.config.SupportedScopes...))
	if err != nil {
		s.logger.Error("failed to mint access token", "error", err)
		s.writeError(w, ErrServerError("Failed to issue access token"))
		return
	}

	s.metrics.RecordTokenIssued(r.Context(), grant.Kind())

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	s.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.AccessTokenTTL.Seconds()),
		Scope:       token.Scopes.String(),
	})
}

// ServeIntrospect handles token introspection (RFC 7662).
// POST /oauth/introspect with token=... form body
//
// Introspection never fails for unknown tokens; it answers {active: false}.
func (s *AuthorizationServer) ServeIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, ErrInvalidRequest("Invalid form body"))
		return
	}
	tokenValue := r.PostFormValue("token")
	if tokenValue == "" {
		s.writeError(w, ErrInvalidRequest("token is required"))
		return
	}

	token := s.tokens.Get(tokenValue)
	if token == nil {
		s.writeJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	s.writeJSON(w, http.StatusOK, IntrospectionResponse{
		Active:    true,
		ClientID:  token.Grant.Client(),
		Scope:     token.Scopes.String(),
		TokenType: "Bearer",
		GrantType: token.Grant.Kind(),
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
		JTI:       token.ID,
	})
}

// ServeRevoke handles token revocation (RFC 7009).
// POST /oauth/revoke with token=... form body
//
// Revocation is idempotent: revoking an unknown or already-revoked token
// still returns 200.
func (s *AuthorizationServer) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, ErrInvalidRequest("Invalid form body"))
		return
	}
	tokenValue := r.PostFormValue("token")
	if tokenValue == "" {
		s.writeError(w, ErrInvalidRequest("token is required"))
		return
	}

	s.tokens.Revoke(tokenValue)

	s.setSecurityHeaders(w)
	w.WriteHeader(http.StatusOK)
}
