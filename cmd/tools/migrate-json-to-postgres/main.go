// Command migrate-json-to-postgres copies a JSON catalog dataset into
// Postgres and verifies the row counts afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"streamhub/internal/config"
	"streamhub/internal/observability/logging"
	"streamhub/internal/storage"
)

func main() {
	_ = config.Load()
	jsonPath := flag.String("json", config.GetEnv("data/store.json", "STREAMHUB_DATA"), "path to the JSON catalog to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	dryRun := flag.Bool("dry-run", false, "load and count the JSON dataset without writing to Postgres")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "text", Writer: os.Stdout})

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath, "users", counts.Users, "videos", counts.Videos, "chat_rooms", counts.ChatRooms, "messages", counts.Messages)
	if *dryRun {
		return
	}

	dsn := firstNonEmpty(*postgresDSN, config.GetEnv("", "STREAMHUB_POSTGRES_DSN", "DATABASE_URL"))
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMHUB_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, dsn, storage.WithApplicationName("streamhub-migrate"))
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close(context.Background()) }()

	if err := repo.ImportSnapshot(ctx, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}
	if err := verifyCounts(ctx, repo.Pool(), counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migration completed", "users", counts.Users, "videos", counts.Videos, "likes", counts.Likes, "messages", counts.Messages)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// verifyCounts requires at least as many rows as the snapshot holds, since the
// target may already contain data from an earlier run or other sources.
func verifyCounts(ctx context.Context, db rowQuerier, counts storage.SnapshotCounts) error {
	checks := []struct {
		table    string
		expected int
	}{
		{"users", counts.Users},
		{"videos", counts.Videos},
		{"video_likes", counts.Likes},
		{"watch_history", counts.Views},
		{"chat_rooms", counts.ChatRooms},
		{"messages", counts.Messages},
	}
	for _, check := range checks {
		var actual int
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM "+check.table).Scan(&actual); err != nil {
			return fmt.Errorf("count %s: %w", check.table, err)
		}
		if actual < check.expected {
			return fmt.Errorf("mismatch for %s: expected at least %d, got %d", check.table, check.expected, actual)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
