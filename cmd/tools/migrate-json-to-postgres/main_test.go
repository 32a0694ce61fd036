package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"streamhub/internal/storage"
)

type countRow struct {
	n   int
	err error
}

func (r countRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.n
	return nil
}

type fakeCounts map[string]int

func (f fakeCounts) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	table := strings.TrimPrefix(sql, "SELECT COUNT(*) FROM ")
	n, ok := f[table]
	if !ok {
		return countRow{err: errors.New("relation does not exist")}
	}
	return countRow{n: n}
}

func TestVerifyCounts(t *testing.T) {
	counts := storage.SnapshotCounts{Users: 2, Videos: 1, Likes: 1, Views: 3, ChatRooms: 1, Messages: 4}
	db := fakeCounts{"users": 2, "videos": 1, "video_likes": 1, "watch_history": 3, "chat_rooms": 1, "messages": 5}
	if err := verifyCounts(context.Background(), db, counts); err != nil {
		t.Fatalf("verifyCounts: %v", err)
	}

	db["videos"] = 0
	err := verifyCounts(context.Background(), db, counts)
	if err == nil || !strings.Contains(err.Error(), "videos") {
		t.Fatalf("expected videos mismatch, got %v", err)
	}

	delete(db, "messages")
	db["videos"] = 1
	if err := verifyCounts(context.Background(), db, counts); err == nil {
		t.Fatal("expected query failure to surface")
	}
}
