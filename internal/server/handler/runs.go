package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// RunsHandler serves persisted backtest runs.
type RunsHandler struct {
	store  domain.RunStore
	logger *slog.Logger
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(store domain.RunStore, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: store, logger: logger.With(slog.String("handler", "runs"))}
}

// ListRuns returns the most recently started runs.
// GET /api/runs?limit=N
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	runs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// GetRun returns one run by ID.
// GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	run, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
