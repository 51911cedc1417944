// Command mmlab is the entry point for the market-making research platform.
// It loads configuration, wires dependencies, sets up signal handling, and
// runs the configured mode (backtest, grid, collect, or serve).
//
// Exit codes: 0 success, 2 configuration error, 3 input store error,
// 4 insufficient data (no snapshot ever passed warmup).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/mmlab/internal/app"
	"github.com/alanyoungcy/mmlab/internal/config"
	"github.com/alanyoungcy/mmlab/internal/domain"
)

const (
	exitOK               = 0
	exitGeneric          = 1
	exitConfig           = 2
	exitStore            = 3
	exitInsufficientData = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitConfig
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitConfig
	}

	logger.Info("mmlab starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return exitOK
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitCodeFor(err)
	}

	logger.Info("mmlab stopped")
	return exitOK
}

// exitCodeFor maps the error taxonomy onto the CLI exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, app.ErrConfig):
		return exitConfig
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrInputOrder), errors.Is(err, domain.ErrNotFound):
		return exitStore
	case errors.Is(err, domain.ErrNoData):
		return exitInsufficientData
	default:
		return exitGeneric
	}
}
