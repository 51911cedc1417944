// Package grid sweeps Avellaneda-Stoikov parameter combinations (risk
// aversion gamma x inventory horizon), runs an independent backtest per
// combination across a bounded worker pool, and ranks the results.
package grid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mmlab/internal/backtest"
	"github.com/alanyoungcy/mmlab/internal/calibrate"
	"github.com/alanyoungcy/mmlab/internal/domain"
	"github.com/alanyoungcy/mmlab/internal/marketdata"
	"github.com/alanyoungcy/mmlab/internal/quote"
)

// Config selects the parameter grid.
type Config struct {
	Gammas   []float64
	Horizons []int64
	Workers  int
}

// Result is one completed cell of the grid.
type Result struct {
	RunID      string
	Gamma      float64
	HorizonSec int64
	Summary    domain.Summary
	Err        error
}

// Runner executes the sweep. Each cell gets its own calibrator, quote model,
// and engine; only the immutable history store is shared.
type Runner struct {
	cfg      Config
	store    domain.HistoryStore
	runStore domain.RunStore // optional persistence
	engine   backtest.Config
	quoting  quote.Config
	calib    calibrate.Config
	logger   *slog.Logger
}

// NewRunner creates a Runner. runStore may be nil to skip persistence.
func NewRunner(
	cfg Config,
	store domain.HistoryStore,
	runStore domain.RunStore,
	engineCfg backtest.Config,
	quoteCfg quote.Config,
	calibCfg calibrate.Config,
	logger *slog.Logger,
) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		runStore: runStore,
		engine:   engineCfg,
		quoting:  quoteCfg,
		calib:    calibCfg,
		logger:   logger.With(slog.String("component", "grid")),
	}
}

// Run executes every (gamma, horizon) combination and returns the results
// sorted by final P&L, best first. Individual cell failures are recorded in
// their Result rather than aborting the sweep.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	type cell struct{ gamma, horizon int }
	var cells []cell
	for gi := range r.cfg.Gammas {
		for hi := range r.cfg.Horizons {
			cells = append(cells, cell{gi, hi})
		}
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("grid: empty parameter grid")
	}

	r.logger.Info("starting grid search",
		slog.Int("cells", len(cells)),
		slog.Int("workers", r.cfg.Workers),
	)

	results := make([]Result, len(cells))
	jobs := make(chan int)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.cfg.Workers; w++ {
		g.Go(func() error {
			for idx := range jobs {
				c := cells[idx]
				results[idx] = r.runCell(ctx, r.cfg.Gammas[c.gamma], r.cfg.Horizons[c.horizon])
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		for idx := range cells {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Err != nil {
			return false
		}
		if results[j].Err != nil {
			return true
		}
		return results[i].Summary.FinalPnL.GreaterThan(results[j].Summary.FinalPnL)
	})
	return results, nil
}

// runCell executes one backtest with the cell's gamma and horizon.
func (r *Runner) runCell(ctx context.Context, gamma float64, horizonSec int64) Result {
	res := Result{
		RunID:      uuid.New().String(),
		Gamma:      gamma,
		HorizonSec: horizonSec,
	}

	quoteCfg := r.quoting
	quoteCfg.Gamma = gamma
	quoteCfg.HorizonSeconds = float64(horizonSec)

	run := domain.BacktestRun{
		ID:         res.RunID,
		Market:     r.engine.Market,
		Gamma:      gamma,
		GammaMode:  string(quoteCfg.Mode),
		HorizonSec: horizonSec,
		Status:     domain.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	if r.runStore != nil {
		if err := r.runStore.Create(ctx, run); err != nil {
			r.logger.Warn("run record create failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	cal := calibrate.New(r.calib, r.logger)
	model := quote.New(quoteCfg, r.logger)
	recorder := backtest.NewRecorder(0)
	engine := backtest.New(r.engine, cal, model, recorder, r.logger)

	stream, err := marketdata.Open(ctx, r.store, r.engine.Market)
	if err != nil {
		res.Err = err
	} else {
		defer stream.Close()
		res.Summary, res.Err = engine.Run(ctx, stream)
	}

	run.FinishedAt = time.Now().UTC()
	if res.Err != nil {
		run.Status = domain.RunFailed
		run.Error = res.Err.Error()
	} else {
		run.Status = domain.RunFinished
		run.Summary = res.Summary
	}
	if r.runStore != nil {
		if err := r.runStore.Finish(ctx, run); err != nil {
			r.logger.Warn("run record finish failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.Info("grid cell finished",
		slog.Float64("gamma", gamma),
		slog.Int64("horizon_sec", horizonSec),
		slog.String("pnl", res.Summary.FinalPnL.String()),
		slog.Bool("failed", res.Err != nil),
	)
	return res
}
