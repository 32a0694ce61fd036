package assets

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
)

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"index.m3u8":       "application/vnd.apple.mpegurl",
		"videos/a/seg3.ts": "video/mp2t",
		"COVER.JPG":        "image/jpeg",
		"clip.mp4":         "video/mp4",
		"unknown.zzz":      "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCleanKey(t *testing.T) {
	cleaned, err := cleanKey(` videos\abc//seg0.ts `)
	if err != nil {
		t.Fatalf("cleanKey: %v", err)
	}
	if cleaned != "videos/abc/seg0.ts" {
		t.Fatalf("unexpected key %q", cleaned)
	}
	for _, bad := range []string{"", ".", "/abs", "../x", "a/../../x"} {
		if _, err := cleanKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("cleanKey(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
}

type failingStore struct{ err error }

func (f failingStore) Put(context.Context, string, string, io.Reader, int64) (Object, error) {
	return Object{}, f.err
}
func (f failingStore) Delete(context.Context, string) error { return f.err }
func (f failingStore) Ping(context.Context) error           { return nil }

func scrape(t *testing.T, recorder *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	recorder := metrics.New()
	local, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	store := Instrument(local, recorder, logging.Discard())
	if _, err := store.Put(context.Background(), "a/b.ts", "", strings.NewReader("12345"), 5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(context.Background(), "a/b.ts"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	broken := Instrument(failingStore{err: errors.New("down")}, recorder, logging.Discard())
	if _, err := broken.Put(context.Background(), "a/c.ts", "", strings.NewReader("x"), 1); err == nil {
		t.Fatal("expected error from failing store")
	}

	body := scrape(t, recorder)
	for _, want := range []string{
		`streamhub_asset_uploads_total{outcome="success"} 1`,
		`streamhub_asset_uploads_total{outcome="error"} 1`,
		`streamhub_asset_upload_bytes_total 5`,
		`streamhub_asset_deletes_total{outcome="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q", want)
		}
	}
}
