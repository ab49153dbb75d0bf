package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps entries in the auth_storage table.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Get returns the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	const query = `
		SELECT value
		FROM auth_storage
		WHERE namespace = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > $3)
	`
	var value string
	if err := s.db.GetContext(ctx, &value, query, namespace, key, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set upserts value under key.
func (s *PostgresStore) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	const query = `
		INSERT INTO auth_storage (namespace, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	now := s.now()
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, namespace, key, value, expiresAt, now)
	return err
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, namespace, key string) error {
	const query = `DELETE FROM auth_storage WHERE namespace = $1 AND key = $2`
	_, err := s.db.ExecContext(ctx, query, namespace, key)
	return err
}

// Keys lists the live keys of a namespace in lexical order.
func (s *PostgresStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	const query = `
		SELECT key
		FROM auth_storage
		WHERE namespace = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY key
	`
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, query, namespace, s.now()); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteExpired removes all expired entries.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM auth_storage WHERE expires_at IS NOT NULL AND expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
