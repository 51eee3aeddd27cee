// Package memory provides an in-memory ClientStore. Registrations are lost on
// restart; it exists for tests and throwaway deployments.
package memory

import (
	"context"
	"sync"

	"github.com/teemow/planfewer/internal/storage"
)

// Store keeps registered clients in a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*storage.Client
}

// New creates an empty in-memory client store.
func New() *Store {
	return &Store{
		clients: make(map[string]*storage.Client),
	}
}

// SaveClient saves a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return storage.ErrAlreadyExists
	}

	copy := *client
	copy.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	s.clients[client.ClientID] = &copy
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *client
	copy.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	return &copy, nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		copy := *client
		copy.RedirectURIs = append([]string(nil), client.RedirectURIs...)
		clients = append(clients, &copy)
	}
	return clients, nil
}

// CountClientsByIP returns how many clients an IP has registered.
func (s *Store) CountClientsByIP(ctx context.Context, ip string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, client := range s.clients {
		if client.CreatedByIP == ip {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

var _ storage.ClientStore = (*Store)(nil)
