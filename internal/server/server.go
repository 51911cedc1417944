// Package server exposes a read-only HTTP API over backtest results: health,
// persisted runs, archived per-snapshot rows, and the latest calibrated
// parameters per market.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mmlab/internal/domain"
	"github.com/alanyoungcy/mmlab/internal/server/handler"
	"github.com/alanyoungcy/mmlab/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Server is the read-only results API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server. runStore, blobReader, and paramsCache are optional;
// endpoints for absent dependencies are simply not registered.
func New(cfg Config, runStore domain.RunStore, blobReader domain.BlobReader, paramsCache domain.ParamsCache, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	health := handler.NewHealthHandler(logger)
	mux.HandleFunc("GET /api/health", health.HealthCheck)

	if runStore != nil {
		rh := handler.NewRunsHandler(runStore, logger)
		mux.HandleFunc("GET /api/runs", rh.ListRuns)
		mux.HandleFunc("GET /api/runs/{id}", rh.GetRun)
		if blobReader != nil {
			rowsH := handler.NewRowsHandler(runStore, blobReader, logger)
			mux.HandleFunc("GET /api/runs/{id}/rows", rowsH.GetRows)
		}
	}
	if paramsCache != nil {
		ph := handler.NewParamsHandler(paramsCache, logger)
		mux.HandleFunc("GET /api/params/{market}", ph.GetParams)
	}

	var h http.Handler = mux
	if len(cfg.CORSOrigins) > 0 {
		h = middleware.CORS(cfg.CORSOrigins)(h)
	}
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("HTTP server shutting down")
		if err := s.httpServer.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return ctx.Err()
	}
}
