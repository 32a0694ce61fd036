package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws?token=query-token", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	req.Header.Set("Authorization", "bearer header-token")
	if got := ExtractToken(req); got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}

	req.Header.Del("Authorization")
	if got := ExtractToken(req); got != "query-token" {
		t.Fatalf("expected query token, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	if got := ExtractToken(req); got != "cookie-token" {
		t.Fatalf("expected cookie token, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := ExtractToken(req); got != "" {
		t.Fatalf("expected no token, got %q", got)
	}
}
