package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	absolute_expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auth_sessions_expires_at_idx ON auth_sessions (expires_at);
`

// PostgresSessionStore persists sessions so several API replicas share
// authentication state. Only SHA-256 digests of tokens are stored.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore opens a pool for dsn and ensures the sessions table exists.
func NewPostgresSessionStore(ctx context.Context, dsn string) (*PostgresSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	if _, err := pool.Exec(ctx, sessionSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// NewPostgresSessionStoreFromPool reuses an existing pool, e.g. the catalog's.
// The caller keeps ownership of the pool.
func NewPostgresSessionStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresSessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres session pool not configured")
	}
	if _, err := pool.Exec(ctx, sessionSchema); err != nil {
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresSessionStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *PostgresSessionStore) Save(ctx context.Context, record SessionRecord) error {
	hashed, err := hashSessionToken(record.Token)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO auth_sessions (token_hash, user_id, expires_at, absolute_expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_hash) DO UPDATE
SET user_id = EXCLUDED.user_id,
    expires_at = EXCLUDED.expires_at,
    absolute_expires_at = EXCLUDED.absolute_expires_at
`, hashed, record.UserID, record.ExpiresAt.UTC(), record.AbsoluteExpiresAt.UTC())
	return err
}

func (s *PostgresSessionStore) Get(ctx context.Context, token string) (SessionRecord, bool, error) {
	hashed, err := hashSessionToken(token)
	if err != nil {
		return SessionRecord{}, false, err
	}
	record := SessionRecord{Token: token}
	err = s.pool.QueryRow(ctx, `
SELECT user_id, expires_at, absolute_expires_at
FROM auth_sessions
WHERE token_hash = $1
`, hashed).Scan(&record.UserID, &record.ExpiresAt, &record.AbsoluteExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return record, true, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, token string) error {
	hashed, err := hashSessionToken(token)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE token_hash = $1`, hashed)
	return err
}

func (s *PostgresSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at <= $1 OR absolute_expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
