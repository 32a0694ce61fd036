package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		avatar_url TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (lower(username))`,
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL,
		creator_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		views BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		search_document TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', title || ' ' || description)) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS videos_created_at_idx ON videos (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS videos_creator_idx ON videos (creator_id)`,
	`CREATE INDEX IF NOT EXISTS videos_search_idx ON videos USING GIN (search_document)`,
	`CREATE TABLE IF NOT EXISTS video_likes (
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		liked_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (video_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS video_likes_user_idx ON video_likes (user_id, liked_at)`,
	`CREATE TABLE IF NOT EXISTS watch_history (
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		watched_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, video_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		participant_b TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		last_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (participant_a < participant_b),
		UNIQUE (participant_a, participant_b)
	)`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participant_b_idx ON chat_rooms (participant_b)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chat_rooms (id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_chat_idx ON messages (chat_id, created_at)`,
}

// EnsurePostgresSchema creates the catalog tables when they are missing. It is
// safe to run on every start.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, statement := range postgresSchema {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply postgres schema: %w", err)
		}
	}
	return nil
}
