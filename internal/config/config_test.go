package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIgnoresMissingFiles(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("STREAMHUB_TEST_A=from-file\nSTREAMHUB_TEST_B=file-only\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("STREAMHUB_TEST_A", "from-env")
	t.Setenv("STREAMHUB_TEST_B", "")
	os.Unsetenv("STREAMHUB_TEST_B")
	t.Cleanup(func() { os.Unsetenv("STREAMHUB_TEST_B") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("STREAMHUB_TEST_A"); got != "from-env" {
		t.Fatalf("expected env to win, got %q", got)
	}
	if got := os.Getenv("STREAMHUB_TEST_B"); got != "file-only" {
		t.Fatalf("expected file value, got %q", got)
	}
}

func TestGetEnvPrefersFirstKey(t *testing.T) {
	t.Setenv("STREAMHUB_PRIMARY", "")
	t.Setenv("STREAMHUB_SECONDARY", "second")
	if got := GetEnv("fallback", "STREAMHUB_PRIMARY", "STREAMHUB_SECONDARY"); got != "second" {
		t.Fatalf("expected second, got %q", got)
	}
	t.Setenv("STREAMHUB_PRIMARY", "first")
	if got := GetEnv("fallback", "STREAMHUB_PRIMARY", "STREAMHUB_SECONDARY"); got != "first" {
		t.Fatalf("expected first, got %q", got)
	}
	if got := GetEnv("fallback", "STREAMHUB_UNSET_KEY"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestTypedLookups(t *testing.T) {
	t.Setenv("STREAMHUB_INT", "42")
	t.Setenv("STREAMHUB_BAD_INT", "forty")
	t.Setenv("STREAMHUB_DURATION", "90s")
	t.Setenv("STREAMHUB_BOOL", "true")
	t.Setenv("STREAMHUB_FLOAT", "2.5")
	t.Setenv("STREAMHUB_LIST", " a, ,b ")

	if got := GetEnvInt(1, "STREAMHUB_INT"); got != 42 {
		t.Fatalf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt(7, "STREAMHUB_BAD_INT"); got != 7 {
		t.Fatalf("expected fallback for invalid int, got %d", got)
	}
	if got := GetEnvInt64(1, "STREAMHUB_INT"); got != 42 {
		t.Fatalf("GetEnvInt64 = %d", got)
	}
	if got := GetEnvDuration(time.Second, "STREAMHUB_DURATION"); got != 90*time.Second {
		t.Fatalf("GetEnvDuration = %s", got)
	}
	if !GetEnvBool(false, "STREAMHUB_BOOL") {
		t.Fatal("expected true")
	}
	if got := GetEnvFloat(0, "STREAMHUB_FLOAT"); got != 2.5 {
		t.Fatalf("GetEnvFloat = %f", got)
	}
	list := GetEnvList(nil, "STREAMHUB_LIST")
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Fatalf("GetEnvList = %v", list)
	}
}
