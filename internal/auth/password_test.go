package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPasswordWithIterations("s3cret!", 1000)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(encoded, "pbkdf2$sha256$1000$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	if err := VerifyPassword(encoded, "s3cret!"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(encoded, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestHashPasswordUsesRandomSalt(t *testing.T) {
	a, _ := HashPasswordWithIterations("same", 1000)
	b, _ := HashPasswordWithIterations("same", 1000)
	if a == b {
		t.Fatal("expected distinct salts")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "bcrypt$x$1$a$b", "pbkdf2$sha256$zero$a$b", "pbkdf2$sha256$10$!!$b"} {
		if err := VerifyPassword(encoded, "x"); err == nil || errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("expected format error for %q, got %v", encoded, err)
		}
	}
}

func TestHashPasswordRequiresValue(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}
