// Package sqlite provides a SQLite-backed ClientStore so client registrations
// survive server restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/teemow/planfewer/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
  client_id                  TEXT PRIMARY KEY,
  client_secret_hash         TEXT NOT NULL DEFAULT '',
  client_name                TEXT NOT NULL DEFAULT '',
  redirect_uris              TEXT NOT NULL,
  token_endpoint_auth_method TEXT NOT NULL,
  created_at                 INTEGER NOT NULL,
  created_by_ip              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_oauth_clients_created_by_ip
  ON oauth_clients (created_by_ip);
`

// Store persists registered clients in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite client store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveClient inserts one client record.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return fmt.Errorf("client id is required")
	}

	uris, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encode redirect uris: %w", err)
	}

	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO oauth_clients (
		   client_id,
		   client_secret_hash,
		   client_name,
		   redirect_uris,
		   token_endpoint_auth_method,
		   created_at,
		   created_by_ip
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientName,
		string(uris),
		client.TokenEndpointAuthMethod,
		toMillis(createdAt),
		client.CreatedByIP,
	)
	if err != nil {
		if isClientUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// GetClient returns one client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT client_id, client_secret_hash, client_name, redirect_uris,
		        token_endpoint_auth_method, created_at, created_by_ip
		   FROM oauth_clients
		  WHERE client_id = ?`,
		clientID,
	)

	client, err := scanClient(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT client_id, client_secret_hash, client_name, redirect_uris,
		        token_endpoint_auth_method, created_at, created_by_ip
		   FROM oauth_clients
		  ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*storage.Client
	for rows.Next() {
		client, err := scanClient(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// CountClientsByIP returns how many clients an IP has registered.
func (s *Store) CountClientsByIP(ctx context.Context, ip string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM oauth_clients WHERE created_by_ip = ?`,
		ip,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count clients by ip: %w", err)
	}
	return count, nil
}

func scanClient(scan func(dest ...any) error) (*storage.Client, error) {
	var client storage.Client
	var uris string
	var createdAt int64
	if err := scan(
		&client.ClientID,
		&client.ClientSecretHash,
		&client.ClientName,
		&uris,
		&client.TokenEndpointAuthMethod,
		&createdAt,
		&client.CreatedByIP,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(uris), &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decode redirect uris: %w", err)
	}
	client.CreatedAt = fromMillis(createdAt)
	return &client, nil
}

func isClientUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "oauth_clients.client_id")
}

var _ storage.ClientStore = (*Store)(nil)
