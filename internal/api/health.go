package api

import (
	"context"
	"net/http"
	"time"
)

const healthProbeTimeout = 3 * time.Second

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Database   string            `json:"database"`
	MongoDB    string            `json:"mongodb"`
	Components []componentStatus `json:"components"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, bool) {
	databaseUp := true
	record := func(component string, err error) componentStatus {
		if err != nil {
			return componentStatus{Component: component, Status: "degraded", Error: err.Error()}
		}
		return componentStatus{Component: component, Status: "ok"}
	}

	components := make([]componentStatus, 0, 3)
	if h.Repo != nil {
		err := h.Repo.Ping(ctx)
		databaseUp = err == nil
		components = append(components, record("datastore", err))
	} else {
		databaseUp = false
	}
	components = append(components, record("sessions", h.sessionManager().Ping(ctx)))
	if h.Assets != nil {
		components = append(components, record("assets", h.Assets.Ping(ctx)))
	}
	return components, databaseUp
}

// Health always answers 200 so load balancers keep routing while the catalog
// reconnects; the database field reports the catalog state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	components, databaseUp := h.componentHealth(ctx)
	database := "connected"
	if !databaseUp {
		database = "disconnected"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Timestamp:  h.clock().UTC(),
		Database:   database,
		MongoDB:    database,
		Components: components,
	})
}

type indexResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	version := h.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, indexResponse{
		Name:    "StreamHub API",
		Version: version,
		Endpoints: map[string]string{
			"health": "/health",
			"auth":   "/api/auth",
			"users":  "/api/users",
			"videos": "/api/videos",
			"chat":   "/api/chat",
			"ws":     "/api/chat/ws",
		},
	})
}
