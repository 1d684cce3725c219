package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS owner_profiles (
		owner_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stream_credentials (
		owner_id TEXT PRIMARY KEY,
		stream_key TEXT NOT NULL UNIQUE,
		broadcast_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL UNIQUE,
		stream_key TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		last_active_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_active ON stream_sessions (is_active)`,
	`CREATE TABLE IF NOT EXISTS video_assets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		stream_key TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		uploader_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_video_assets_source
		ON video_assets (stream_key, source_path)
		WHERE stream_key <> '' AND source_path <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_video_assets_status ON video_assets (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		edited_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_pending ON chat_messages (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS user_sanctions (
		user_id TEXT PRIMARY KEY,
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		muted_until TIMESTAMPTZ,
		strikes INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		reported_content_id TEXT NOT NULL,
		reported_user_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		reporter_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
