package oauth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/planfewer/internal/logging"
)

// TokenStore manages issued bearer tokens in memory.
//
// Expiry is evaluated lazily at use-time by wall-clock comparison, plus an
// out-of-band periodic sweep that removes expired tokens without pausing
// request handling. The sweep is a scoped background task stopped via Stop.
type TokenStore struct {
	mu            sync.RWMutex
	tokens        map[string]*Token
	ttl           time.Duration
	sweepInterval time.Duration
	revokeHooks   []func(*Token)
	done          chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
	now           func() time.Time
}

// NewTokenStore creates a token store and starts its expiry sweep.
func NewTokenStore(ttl, sweepInterval time.Duration, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &TokenStore{
		tokens:        make(map[string]*Token),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
		logger:        logger,
		now:           time.Now,
	}

	go s.sweep()

	return s
}

// Mint issues a new token for the given grant with the given scopes.
// The value is cryptographically random and unique across live tokens.
func (s *TokenStore) Mint(grant Grant, scopes ScopeSet) (*Token, error) {
	if grant == nil {
		return nil, fmt.Errorf("grant cannot be nil")
	}

	value, err := generateSecureToken(AccessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := s.now()
	token := &Token{
		Value:      value,
		ID:         uuid.NewString(),
		Scopes:     scopes,
		Grant:      grant,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Collision on 48 random bytes is not a realistic event; treat it as a
	// hard fault rather than retrying into unknown state.
	if _, exists := s.tokens[value]; exists {
		return nil, fmt.Errorf("token value collision")
	}
	s.tokens[value] = token

	s.logger.Info("issued access token",
		"client_id", grant.Client(),
		"grant_type", grant.Kind(),
		"jti", token.ID,
		"expires_at", token.ExpiresAt,
	)

	return token, nil
}

// Validate checks a presented token value and, if required scopes are given,
// runs the scope validator. On success it updates last_used_at and returns an
// immutable AuthContext snapshot.
func (s *TokenStore) Validate(value string, requiredScopes ...string) (*AuthContext, *OAuthError) {
	if err := ValidateTokenShape(value); err != nil {
		return nil, ErrInvalidToken("Malformed access token")
	}

	s.mu.Lock()
	token, exists := s.tokens[value]
	if !exists {
		s.mu.Unlock()
		return nil, ErrInvalidToken("Unknown access token")
	}

	now := s.now()
	if token.Expired(now) {
		delete(s.tokens, value)
		s.mu.Unlock()
		return nil, ErrInvalidToken("Access token expired")
	}

	lastUsed := token.LastUsedAt
	token.LastUsedAt = now
	ctx := &AuthContext{
		ClientID:   token.Grant.Client(),
		Scopes:     token.Scopes,
		GrantKind:  token.Grant.Kind(),
		TokenID:    token.ID,
		IssuedAt:   token.IssuedAt,
		LastUsedAt: lastUsed,
	}
	s.mu.Unlock()

	if len(requiredScopes) > 0 {
		if err := ctx.Scopes.SatisfiesAll(requiredScopes...); err != nil {
			return nil, ErrInsufficientScope(err.Error())
		}
	}

	return ctx, nil
}

// Get returns the token for a value, or nil if it is unknown or expired.
// Expired tokens are evicted on the way out. Used by introspection, which
// never fails for unknown tokens.
func (s *TokenStore) Get(value string) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[value]
	if !exists {
		return nil
	}
	if token.Expired(s.now()) {
		delete(s.tokens, value)
		return nil
	}

	copy := *token
	return &copy
}

// OnRevoke registers a hook invoked with each token Revoke actually removes.
// Hooks must be registered before the store starts serving requests; they run
// outside the store's lock.
func (s *TokenStore) OnRevoke(hook func(*Token)) {
	s.revokeHooks = append(s.revokeHooks, hook)
}

// Revoke removes a token if present. Revoking an unknown or already-revoked
// token is not an error; revocation is idempotent by contract.
func (s *TokenStore) Revoke(value string) {
	s.mu.Lock()
	token, exists := s.tokens[value]
	if exists {
		delete(s.tokens, value)
	}
	s.mu.Unlock()

	if !exists {
		return
	}

	for _, hook := range s.revokeHooks {
		hook(token)
	}
	s.logger.Info("revoked access token", "token", logging.SanitizeToken(value))
}

// Count returns the number of live tokens.
func (s *TokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Stop stops the expiry sweep goroutine.
func (s *TokenStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// sweep periodically removes expired tokens.
func (s *TokenStore) sweep() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.done:
			return
		}
	}
}

func (s *TokenStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for value, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, value)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("swept expired tokens", "count", removed)
	}
}
