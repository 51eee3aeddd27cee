// Package storage defines the persistence interface for OAuth client
// registrations. Backends include an in-memory store for tests and a SQLite
// store for durable registrations that survive restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a client id is not registered.
var ErrNotFound = errors.New("client not found")

// ErrAlreadyExists is returned when a client id is already registered.
var ErrAlreadyExists = errors.New("client already exists")

// Client is a registered OAuth client.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientName              string
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
	CreatedByIP             string
}

// Public reports whether the client authenticates at the token endpoint.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// ClientStore persists registered OAuth clients.
// All methods accept context.Context for cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)

	// CountClientsByIP returns how many clients an IP has registered
	CountClientsByIP(ctx context.Context, ip string) (int, error)

	// Close releases any backend resources
	Close() error
}
