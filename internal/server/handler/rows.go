package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// RowsHandler streams a run's archived per-snapshot rows back from object
// storage. The run record resolves the market so the artifact key can be
// built without the client knowing the storage layout.
type RowsHandler struct {
	runs   domain.RunStore
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewRowsHandler creates a RowsHandler.
func NewRowsHandler(runs domain.RunStore, blobs domain.BlobReader, logger *slog.Logger) *RowsHandler {
	return &RowsHandler{
		runs:   runs,
		blobs:  blobs,
		logger: logger.With(slog.String("handler", "rows")),
	}
}

// GetRows streams the archived rows.jsonl for one run.
// GET /api/runs/{id}/rows
func (h *RowsHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	run, err := h.runs.GetByID(r.Context(), id)
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

	path := domain.RunArtifactPath(run.Market, run.ID, domain.ArtifactRows)
	body, err := h.blobs.Get(r.Context(), path)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rows not archived for run")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get rows artifact failed",
			slog.String("run_id", id),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load rows")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "rows stream interrupted",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
	}
}
