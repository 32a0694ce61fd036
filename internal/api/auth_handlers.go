package api

import (
	"errors"
	"net/http"
	"time"

	"streamhub/internal/auth"
	"streamhub/internal/models"
	"streamhub/internal/storage"
)

type signupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatarUrl"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Repo.CreateUser(r.Context(), storage.CreateUserParams{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			writeMessage(w, http.StatusConflict, "User already exists")
		case errors.Is(err, storage.ErrValidation):
			writeError(w, http.StatusBadRequest, err)
		default:
			h.writeInternalError(w, r, "Server error", err)
		}
		return
	}

	h.issueSession(w, r, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Repo.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrValidation) {
			writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.writeInternalError(w, r, "Server error", err)
		return
	}

	h.issueSession(w, r, http.StatusOK, user)
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, status int, user models.User) {
	token, expiresAt, err := h.sessionManager().Create(r.Context(), user.ID)
	if err != nil {
		h.writeInternalError(w, r, "Server error", err)
		return
	}
	setSessionCookie(w, r, token, expiresAt, h.sessionCookiePolicy())
	writeJSON(w, status, authResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	if token := auth.ExtractToken(r); token != "" {
		if err := h.sessionManager().Revoke(r.Context(), token); err != nil {
			h.writeInternalError(w, r, "Server error", err)
			return
		}
	}
	clearSessionCookie(w, r, h.sessionCookiePolicy())
	writeMessage(w, http.StatusOK, "Logged out")
}
