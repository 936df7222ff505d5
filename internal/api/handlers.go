package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"gammabot/internal/bus"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	provider SnapshotProvider
	fabric   bus.Bus
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(provider SnapshotProvider, fabric bus.Bus, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		fabric:   fabric,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current pipeline state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := BuildSnapshot(h.provider)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
