package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"streamhub/internal/observability/logging"
	"streamhub/internal/storage"
)

// maxJSONBody bounds non-upload request bodies.
const maxJSONBody = 1 << 20

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSON is the exported form of writeJSON for middleware in other packages.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	writeJSON(w, status, payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeMessage(w, status, err.Error())
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// writeInternalError logs err with the request context and answers with a
// generic message.
func (h *Handler) writeInternalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	logger := logging.LoggerFromContext(r.Context(), h.logger())
	logger.Error(message, "error", err, "path", r.URL.Path)
	writeMessage(w, http.StatusInternalServerError, message)
}

// writeStoreError maps repository sentinels to statuses. notFound is the
// message used for storage.ErrNotFound.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeMessage(w, http.StatusNotFound, notFound)
	case errors.Is(err, storage.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Not authorized")
	default:
		h.writeInternalError(w, r, "Server error", err)
	}
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
