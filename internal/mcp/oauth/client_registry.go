package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/teemow/planfewer/internal/storage"
)

// ClientRegistry manages registered OAuth clients. Reads are served from an
// in-memory cache; writes go through the backing store first, so a
// registration response is only returned once the record is durable.
//
// Load must complete before the registry serves requests. Authorization and
// token operations on a registry that has not finished loading would reject
// clients that are in fact registered.
type ClientRegistry struct {
	mu     sync.RWMutex
	cache  map[string]*storage.Client
	store  storage.ClientStore
	loaded bool
	logger *slog.Logger
}

// NewClientRegistry creates a registry backed by the given store.
func NewClientRegistry(store storage.ClientStore, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &ClientRegistry{
		cache:  make(map[string]*storage.Client),
		store:  store,
		logger: logger,
	}
}

// Load reads all persisted clients into the cache. It must be awaited before
// the HTTP surface starts serving.
func (r *ClientRegistry) Load(ctx context.Context) error {
	clients, err := r.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("load registered clients: %w", err)
	}

	r.mu.Lock()
	for _, client := range clients {
		r.cache[client.ClientID] = client
	}
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("loaded registered clients", "count", len(clients))
	return nil
}

// CheckIPLimit checks if an IP has reached the client registration limit.
func (r *ClientRegistry) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 || ip == "" {
		return nil
	}

	count, err := r.store.CountClientsByIP(ctx, ip)
	if err != nil {
		return fmt.Errorf("count clients for ip: %w", err)
	}
	if count >= maxClientsPerIP {
		return fmt.Errorf("client registration limit reached for IP %s (%d/%d)", ip, count, maxClientsPerIP)
	}
	return nil
}

// Register validates a registration request, mints credentials, persists the
// client, and returns the registration response. The client secret, when one
// is issued, appears only in this response; the store keeps a bcrypt hash.
func (r *ClientRegistry) Register(ctx context.Context, req *ClientRegistrationRequest, clientIP string) (*ClientRegistrationResponse, *OAuthError) {
	if req.ClientName == "" {
		return nil, ErrInvalidRequest("client_name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, ErrInvalidRequest("redirect_uris is required and must not be empty")
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, ErrInvalidRedirectURI(fmt.Sprintf("redirect URI %q: %s", uri, err))
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	if !supported(SupportedTokenAuthMethods, authMethod) {
		return nil, ErrInvalidRequest(fmt.Sprintf("unsupported token_endpoint_auth_method %q", authMethod))
	}

	clientID, err := generateSecureToken(ClientIDBytes)
	if err != nil {
		return nil, ErrServerError("failed to generate client ID")
	}

	var clientSecret, secretHash string
	if authMethod != "none" {
		clientSecret, err = generateSecureToken(ClientSecretBytes)
		if err != nil {
			return nil, ErrServerError("failed to generate client secret")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, ErrServerError("failed to hash client secret")
		}
		secretHash = string(hash)
	}

	now := time.Now().UTC()
	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		ClientName:              req.ClientName,
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               now,
		CreatedByIP:             clientIP,
	}

	// Persist before caching: if the write fails, the registration never
	// happened anywhere.
	if err := r.store.SaveClient(ctx, client); err != nil {
		r.logger.Error("failed to persist client registration", "error", err)
		return nil, ErrServerError("failed to persist client registration")
	}

	r.mu.Lock()
	r.cache[clientID] = client
	r.mu.Unlock()

	r.logger.Info("registered new OAuth client",
		"client_id", clientID,
		"client_name", req.ClientName,
		"client_ip", clientIP,
		"redirect_uris", req.RedirectURIs,
		"token_endpoint_auth_method", authMethod,
	)

	return &ClientRegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            clientSecret, // Only returned once
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              SupportedGrantTypes,
		ResponseTypes:           SupportedResponseTypes,
		ClientName:              req.ClientName,
	}, nil
}

// GetClient retrieves a registered client by ID.
func (r *ClientRegistry) GetClient(clientID string) (*storage.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.cache[clientID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

// ValidateRedirectURI checks if a redirect URI is registered for a client.
// Matching is exact string comparison, no normalization.
func (r *ClientRegistry) ValidateRedirectURI(clientID, redirectURI string) error {
	client, err := r.GetClient(clientID)
	if err != nil {
		return err
	}

	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri not registered for this client")
}

// ValidateClientSecret validates a client's secret against the stored hash.
func (r *ClientRegistry) ValidateClientSecret(clientID, clientSecret string) error {
	client, err := r.GetClient(clientID)
	if err != nil {
		return err
	}
	if client.Public() {
		return fmt.Errorf("client is public and has no secret")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

// Count returns the number of cached clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// validateRedirectURI enforces the registration rules for a single URI:
// absolute, no fragment, and https except for loopback hosts.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URI")
	}
	if !u.IsAbs() {
		return fmt.Errorf("must be absolute")
	}
	if u.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("http is only allowed for loopback hosts")
	default:
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
}

func isLoopbackHost(host string) bool {
	for _, loopback := range LoopbackHosts {
		if host == loopback {
			return true
		}
	}
	return false
}

func supported(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
