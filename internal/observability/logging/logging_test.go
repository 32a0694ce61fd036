package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry %q: %v", buf.String(), err)
	}
	return payload
}

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	payload := decodeLine(t, &buf)
	if payload["msg"] != "custom writer" {
		t.Fatalf("unexpected message %v", payload["msg"])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: " TEXT "}).Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "warning", expected: slog.LevelWarn},
		{input: "warn", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "info", expected: slog.LevelInfo},
		{input: "", expected: slog.LevelInfo},
		{input: "bogus", expected: slog.LevelInfo},
		{input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent(logger, "ingest").Info("component set")

	if payload := decodeLine(t, &buf); payload["component"] != "ingest" {
		t.Fatalf("expected component ingest, got %v", payload["component"])
	}
	if got := WithComponent(nil, "anything"); got != nil {
		t.Fatalf("expected nil logger, got %v", got)
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, " req-123 ")
	ctx = ContextWithUserID(ctx, "user-456")
	ctx = ContextWithUserID(ctx, "   ")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-123" {
		t.Fatalf("expected request id req-123, got %q", id)
	}
	if id, ok := UserIDFromContext(ctx); !ok || id != "user-456" {
		t.Fatalf("expected user id user-456, got %q", id)
	}
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	var buf bytes.Buffer
	fallback := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := ContextWithRequestID(context.Background(), "req-9")

	LoggerFromContext(ctx, fallback).Info("hello")

	if payload := decodeLine(t, &buf); payload["request_id"] != "req-9" {
		t.Fatalf("expected request_id annotation, got %v", payload["request_id"])
	}

	var stored bytes.Buffer
	storedLogger := slog.New(slog.NewJSONHandler(&stored, nil))
	ctx = ContextWithLogger(ctx, storedLogger)
	if LoggerFromContext(ctx, fallback) != storedLogger {
		t.Fatal("expected stored logger to be returned")
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}

	slog.Info("hello world")

	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected text output to include message, got %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger})

	req := httptest.NewRequest(http.MethodPost, "/api/videos/abc123/like", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	recorder := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})).ServeHTTP(recorder, req)

	payload := decodeLine(t, &buf)
	if payload["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected status %d, got %v", http.StatusNotFound, payload["status"])
	}
	if payload["level"] != "WARN" {
		t.Fatalf("expected warn level for 4xx, got %v", payload["level"])
	}
	if payload["bytes"] != float64(len("missing")) {
		t.Fatalf("expected bytes to be recorded, got %v", payload["bytes"])
	}
	if payload["remote_addr"] != "127.0.0.1:1234" {
		t.Fatalf("expected remote_addr to be recorded, got %v", payload["remote_addr"])
	}
}

func TestRequestLoggerSkipsPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger, SkipPaths: []string{"/health"}})

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}
