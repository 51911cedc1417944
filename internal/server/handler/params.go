package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// ParamsHandler serves the latest calibrated parameters per market.
type ParamsHandler struct {
	cache  domain.ParamsCache
	logger *slog.Logger
}

// NewParamsHandler creates a ParamsHandler.
func NewParamsHandler(cache domain.ParamsCache, logger *slog.Logger) *ParamsHandler {
	return &ParamsHandler{cache: cache, logger: logger.With(slog.String("handler", "params"))}
}

// GetParams returns the last published calibration for a market.
// GET /api/params/{market}
func (h *ParamsHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	params, err := h.cache.GetParams(r.Context(), market)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no calibration published for market")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get params failed",
			slog.String("market", market),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load params")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market":      market,
		"sigma":       params.Sigma,
		"a_bid":       params.ABid,
		"kappa_bid":   params.KappaBid,
		"a_ask":       params.AAsk,
		"kappa_ask":   params.KappaAsk,
		"last_fit_ts": params.LastFitTs,
		"fit":         params.Fit,
	})
}
