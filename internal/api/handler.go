package api

import (
	"context"
	"log/slog"
	"time"

	"streamhub/internal/assets"
	"streamhub/internal/auth"
	"streamhub/internal/chat"
	"streamhub/internal/ingest"
	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/storage"
)

// DefaultMaxUploadBytes caps a multipart upload when MaxUploadBytes is unset.
const DefaultMaxUploadBytes int64 = 1 << 30

// Ingester turns spooled uploads into catalog entries. *ingest.Pipeline
// satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (models.Video, error)
}

type Handler struct {
	Repo     storage.Repository
	Sessions *auth.SessionManager
	Ingest   Ingester
	Hub      *chat.Hub
	// Assets is only probed by Health.
	Assets assets.Store
	Logger *slog.Logger

	// UploadDir receives spooled multipart parts. Empty means os.TempDir.
	UploadDir      string
	MaxUploadBytes int64

	Version             string
	SessionCookiePolicy SessionCookiePolicy

	now func() time.Time
}

func NewHandler(repo storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Repo: repo, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logging.WithComponent(logger, "api")
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}
