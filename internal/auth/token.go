package auth

import (
	"net/http"
	"strings"
)

// SessionCookieName is the cookie checked when no Authorization header is sent.
const SessionCookieName = "streamhub_session"

// ExtractToken reads the session token from, in order, a Bearer Authorization
// header, the "token" query parameter (browsers cannot set headers on
// websocket upgrades) and the session cookie.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
