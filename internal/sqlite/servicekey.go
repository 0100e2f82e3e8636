package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ServiceKeyRepository resolves bearer tokens presented by backend services
// to a service name. Keys are stored as SHA-256 hashes; the plaintext is
// never persisted.
type ServiceKeyRepository struct {
	db *DB
}

// NewServiceKeyRepository creates a new service key repository.
func NewServiceKeyRepository(db *DB) *ServiceKeyRepository {
	return &ServiceKeyRepository{db: db}
}

// Resolve returns the service name owning the token and records its use.
func (r *ServiceKeyRepository) Resolve(ctx context.Context, token string) (string, error) {
	hash := HashToken(token)

	var service string
	err := r.db.QueryRowContext(ctx,
		`SELECT service FROM service_keys WHERE key_hash = ?`, hash).Scan(&service)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving service key: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE service_keys SET last_used = CURRENT_TIMESTAMP WHERE key_hash = ?`, hash); err != nil {
		return "", fmt.Errorf("updating key usage: %w", err)
	}
	return service, nil
}

// Create registers a new key for a service.
func (r *ServiceKeyRepository) Create(ctx context.Context, token, service, description string) error {
	if token == "" || service == "" {
		return fmt.Errorf("token and service are required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_keys (key_hash, service, description) VALUES (?, ?, ?)`,
		HashToken(token), service, description)
	if err != nil {
		return fmt.Errorf("creating service key: %w", err)
	}
	return nil
}

// HashToken returns the hex-encoded SHA-256 digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
