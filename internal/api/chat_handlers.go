package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamhub/internal/models"
)

const chatNotFound = "Chat not found"

type createChatRequest struct {
	ParticipantID string `json:"participantId"`
}

type createMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	rooms, err := h.Repo.ListChatRooms(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, chatNotFound)
		return
	}
	if rooms == nil {
		rooms = []models.ChatRoom{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// CreateChat returns the room shared with the requested participant,
// creating it on first use.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" {
		writeMessage(w, http.StatusBadRequest, "participantId is required")
		return
	}
	room, created, err := h.Repo.FindOrCreateChatRoom(r.Context(), user.ID, participantID)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

// participantRoom loads the room named in the URL and checks that the caller
// belongs to it.
func (h *Handler) participantRoom(w http.ResponseWriter, r *http.Request, user models.User) (models.ChatRoom, bool) {
	room, err := h.Repo.GetChatRoom(r.Context(), chi.URLParam(r, "chatId"))
	if err != nil {
		h.writeStoreError(w, r, err, chatNotFound)
		return models.ChatRoom{}, false
	}
	if !room.HasParticipant(user.ID) {
		writeMessage(w, http.StatusForbidden, "Not authorized to access this chat")
		return models.ChatRoom{}, false
	}
	return room, true
}

func (h *Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	room, ok := h.participantRoom(w, r, user)
	if !ok {
		return
	}
	messages, err := h.Repo.ListMessages(r.Context(), room.ID)
	if err != nil {
		h.writeStoreError(w, r, err, chatNotFound)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	room, ok := h.participantRoom(w, r, user)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	message, err := h.Repo.CreateMessage(r.Context(), room.ID, user.ID, req.Content)
	if err != nil {
		h.writeStoreError(w, r, err, chatNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

// ChatWebsocket upgrades an authenticated request to the realtime channel.
// Browsers pass the session token in the query string since they cannot set
// headers on the upgrade request.
func (h *Handler) ChatWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Realtime chat is disabled")
		return
	}
	user, ok := UserFromContext(r.Context())
	if !ok {
		authenticated, err := h.AuthenticateRequest(r)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Authentication error")
			return
		}
		user = authenticated
	}
	h.Hub.HandleConnection(w, r, user)
}
