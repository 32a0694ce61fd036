package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"streamhub/internal/auth"
	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/storage"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

var (
	errMissingToken   = errors.New("missing session token")
	errInvalidSession = errors.New("invalid or expired session")
)

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// AuthenticateRequest validates the session token on the request and returns
// the user it belongs to.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := auth.ExtractToken(r)
	if token == "" {
		return models.User{}, errMissingToken
	}
	userID, _, ok, err := h.sessionManager().Validate(r.Context(), token)
	if err != nil {
		return models.User{}, fmt.Errorf("validate session: %w", err)
	}
	if !ok {
		return models.User{}, errInvalidSession
	}
	user, err := h.Repo.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, errInvalidSession
		}
		return models.User{}, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// RequireAuth rejects requests without a valid session with 401 and stores
// the caller in the request context otherwise.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.AuthenticateRequest(r)
		if err != nil {
			if !errors.Is(err, errMissingToken) && !errors.Is(err, errInvalidSession) {
				h.logger().Error("session lookup failed", "error", err)
				writeMessage(w, http.StatusInternalServerError, "Server error")
				return
			}
			writeMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}
		ctx := ContextWithUser(r.Context(), user)
		ctx = logging.ContextWithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authorized, no token")
		return models.User{}, false
	}
	return user, true
}
