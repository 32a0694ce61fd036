package api

import (
	"net/http"

	"streamhub/internal/models"
)

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	users, err := h.Repo.ListUsers(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) WatchHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	videos, err := h.Repo.WatchHistory(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	writeVideos(w, videos)
}

func (h *Handler) LikedVideos(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	videos, err := h.Repo.LikedVideos(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	writeVideos(w, videos)
}
