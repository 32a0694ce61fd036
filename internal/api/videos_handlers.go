package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamhub/internal/models"
	"streamhub/internal/storage"
)

const videoNotFound = "Video not found"

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func writeVideos(w http.ResponseWriter, videos []models.Video) {
	if videos == nil {
		videos = []models.Video{}
	}
	writeJSON(w, http.StatusOK, videos)
}

func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.Repo.ListVideos(r.Context(), storage.DefaultVideoLimit)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeVideos(w, videos)
}

func (h *Handler) SearchVideos(w http.ResponseWriter, r *http.Request) {
	// A blank query lists the newest videos.
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	videos, err := h.Repo.SearchVideos(r.Context(), query, storage.DefaultVideoLimit)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeVideos(w, videos)
}

func (h *Handler) UserVideos(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	videos, err := h.Repo.ListVideosByCreator(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeVideos(w, videos)
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, err := h.Repo.GetVideo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) UpdateVideo(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	var req updateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := chi.URLParam(r, "id")
	existing, err := h.Repo.GetVideo(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	if existing.CreatorID != user.ID {
		writeMessage(w, http.StatusForbidden, "Not authorized to update this video")
		return
	}

	video, err := h.Repo.UpdateVideo(r.Context(), id, storage.VideoUpdate{Title: req.Title, Description: req.Description})
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	video, err := h.Repo.ToggleLike(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	video, err := h.Repo.RecordView(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, videoNotFound)
		return
	}
	writeJSON(w, http.StatusOK, video)
}
