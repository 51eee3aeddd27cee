package oauth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AuthorizationCode binds a client, redirect target, and PKCE challenge for
// the short window between authorize and exchange. Codes are single-use: a
// successful exchange marks the code consumed, permanently.
type AuthorizationCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Consumed      bool
}

// CodeStore manages short-lived authorization codes.
type CodeStore struct {
	mu            sync.Mutex
	codes         map[string]*AuthorizationCode
	ttl           time.Duration
	sweepInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
	now           func() time.Time
}

// NewCodeStore creates a code store and starts its expiry sweep.
func NewCodeStore(ttl, sweepInterval time.Duration, logger *slog.Logger) *CodeStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultAuthorizationCodeTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &CodeStore{
		codes:         make(map[string]*AuthorizationCode),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
		logger:        logger,
		now:           time.Now,
	}

	go s.sweep()

	return s
}

// Issue mints a new authorization code bound to the client, redirect target,
// and PKCE challenge.
func (s *CodeStore) Issue(clientID, redirectURI, codeChallenge string) (*AuthorizationCode, error) {
	value, err := generateSecureToken(AuthorizationCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := s.now()
	code := &AuthorizationCode{
		Code:          value,
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	s.mu.Lock()
	s.codes[value] = code
	s.mu.Unlock()

	s.logger.Debug("issued authorization code",
		"client_id", clientID,
		"expires_at", code.ExpiresAt,
	)

	copy := *code
	return &copy, nil
}

// Peek returns a snapshot of a live (unconsumed, unexpired) code without
// consuming it, so the token endpoint can run its full validation order
// before committing the single-use transition.
func (s *CodeStore) Peek(value string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, exists := s.codes[value]
	if !exists {
		return nil, fmt.Errorf("authorization code not found")
	}
	if code.Consumed {
		return nil, fmt.Errorf("authorization code already used")
	}
	if s.now().After(code.ExpiresAt) {
		return nil, fmt.Errorf("authorization code expired")
	}

	copy := *code
	return &copy, nil
}

// Consume atomically marks a code used. Exactly one caller can win this
// transition; everyone else gets an error, which the token endpoint reports
// as invalid_grant. The consumed record stays until the sweep removes it so
// replayed codes keep failing for their full TTL.
func (s *CodeStore) Consume(value string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, exists := s.codes[value]
	if !exists {
		return nil, fmt.Errorf("authorization code not found")
	}
	if code.Consumed {
		return nil, fmt.Errorf("authorization code already used")
	}
	if s.now().After(code.ExpiresAt) {
		return nil, fmt.Errorf("authorization code expired")
	}

	code.Consumed = true

	s.logger.Info("authorization code consumed", "client_id", code.ClientID)

	copy := *code
	return &copy, nil
}

// Count returns the number of stored codes, consumed ones included.
func (s *CodeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Stop stops the expiry sweep goroutine.
func (s *CodeStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// sweep periodically removes expired and consumed codes.
func (s *CodeStore) sweep() {
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

func (s *CodeStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for value, code := range s.codes {
		if code.Consumed || now.After(code.ExpiresAt) {
			delete(s.codes, value)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("swept authorization codes", "count", removed)
	}
}
