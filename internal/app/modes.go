package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mmlab/internal/backtest"
	"github.com/alanyoungcy/mmlab/internal/calibrate"
	"github.com/alanyoungcy/mmlab/internal/collector"
	"github.com/alanyoungcy/mmlab/internal/domain"
	"github.com/alanyoungcy/mmlab/internal/grid"
	"github.com/alanyoungcy/mmlab/internal/marketdata"
	"github.com/alanyoungcy/mmlab/internal/notify"
	"github.com/alanyoungcy/mmlab/internal/quote"
	"github.com/alanyoungcy/mmlab/internal/server"
	"github.com/alanyoungcy/mmlab/internal/store/csvstore"
)

// runLockTTL bounds how long a crashed driver can keep a market locked.
const runLockTTL = 2 * time.Hour

// engineConfigs is the parsed-and-validated trio of per-run configurations.
type engineConfigs struct {
	engine backtest.Config
	quote  quote.Config
	calib  calibrate.Config
}

// buildConfigs converts the TOML config into the typed engine configurations,
// parsing the decimal-string money fields.
func (a *App) buildConfigs(market string) (engineConfigs, error) {
	var out engineConfigs

	initialCash, err := parseDecimal("backtest.initial_cash", a.cfg.Backtest.InitialCash)
	if err != nil {
		return out, err
	}
	unitSize, err := parseDecimal("backtest.unit_size", a.cfg.Backtest.UnitSize)
	if err != nil {
		return out, err
	}
	inventoryMax, err := parseDecimal("backtest.inventory_max", a.cfg.Backtest.InventoryMax)
	if err != nil {
		return out, err
	}
	tickSize, err := parseDecimal("backtest.tick_size", a.cfg.Backtest.TickSize)
	if err != nil {
		return out, err
	}
	effThreshold := decimal.Zero
	if strings.TrimSpace(a.cfg.Model.EffectiveVolumeThreshold) != "" {
		if effThreshold, err = parseDecimal("model.effective_volume_threshold", a.cfg.Model.EffectiveVolumeThreshold); err != nil {
			return out, err
		}
	}

	invMaxF, _ := inventoryMax.Float64()

	out.engine = backtest.Config{
		Market:                   market,
		InitialCash:              initialCash,
		UnitSize:                 unitSize,
		InventoryMax:             inventoryMax,
		MakerFeeBps:              decimal.NewFromFloat(a.cfg.Backtest.MakerFeeBps),
		TakerFeeBps:              decimal.NewFromFloat(a.cfg.Backtest.TakerFeeBps),
		FillCooldownSeconds:      a.cfg.Backtest.FillCooldownSeconds,
		QuoteValiditySeconds:     a.cfg.Backtest.QuoteValiditySeconds,
		GapThresholdSeconds:      a.cfg.Backtest.GapThresholdSeconds,
		WarmupPeriodSeconds:      a.cfg.Backtest.WarmupPeriodSeconds,
		EffectiveVolumeThreshold: effThreshold,
		ReportUnrealizedFee:      a.cfg.Backtest.ReportUnrealizedFee,
	}
	out.quote = quote.Config{
		Gamma:          a.cfg.Model.RiskAversionGamma,
		GammaMin:       a.cfg.Model.GammaMin,
		GammaMax:       a.cfg.Model.GammaMax,
		Mode:           quote.GammaMode(a.cfg.Model.GammaMode),
		HorizonSeconds: float64(a.cfg.Model.InventoryHorizonSeconds),
		TickSize:       tickSize,
		MinSpreadBps:   a.cfg.Backtest.MinSpreadBps,
		MaxSpreadBps:   a.cfg.Backtest.MaxSpreadBps,
		MakerFeeBps:    a.cfg.Backtest.MakerFeeBps,
		MaxShiftTicks:  a.cfg.Model.MaxShiftTicks,
		MinVolatility:  a.cfg.Model.MinVolatility,
		MaxVolatility:  a.cfg.Model.MaxVolatility,
		InventoryMax:   invMaxF,
	}
	out.calib = calibrate.Config{
		WindowSeconds:        a.cfg.Model.CalibrationWindowSeconds,
		RecalIntervalSeconds: a.cfg.Model.RecalibrationIntervalSeconds,
		WarmupSeconds:        a.cfg.Backtest.WarmupPeriodSeconds,
		UseGarch:             a.cfg.Model.UseGarch,
	}
	return out, nil
}

func parseDecimal(name, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("app: %s %q: %v: %w", name, value, err, ErrConfig)
	}
	return d, nil
}

// BacktestMode replays history for every configured market sequentially and
// reports each run's summary.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	for _, market := range a.cfg.Data.Markets {
		if err := a.runBacktest(ctx, deps, market); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runBacktest(ctx context.Context, deps *Dependencies, market string) error {
	logger := a.logger.With(slog.String("market", market))

	if deps.RunLock != nil {
		unlock, err := deps.RunLock.Acquire(ctx, "backtest:"+market, runLockTTL)
		if err != nil {
			return fmt.Errorf("app: lock market %s: %w", market, err)
		}
		defer unlock()
	}

	cfgs, err := a.buildConfigs(market)
	if err != nil {
		return err
	}

	run := domain.BacktestRun{
		ID:         uuid.New().String(),
		Market:     market,
		Gamma:      a.cfg.Model.RiskAversionGamma,
		GammaMode:  a.cfg.Model.GammaMode,
		HorizonSec: a.cfg.Model.InventoryHorizonSeconds,
		Status:     domain.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	if deps.RunStore != nil {
		if err := deps.RunStore.Create(ctx, run); err != nil {
			logger.Warn("run record create failed", slog.String("error", err.Error()))
		}
	}

	recorder := backtest.NewRecorder(4096)
	sinks := backtest.Tee{recorder}

	var csvPath string
	if a.cfg.Backtest.OutputCSV != "" {
		csvPath = outputPathFor(a.cfg.Backtest.OutputCSV, market, len(a.cfg.Data.Markets) > 1)
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("app: create output csv %s: %w", csvPath, err)
		}
		defer f.Close()
		sinks = append(sinks, backtest.NewCSVSink(f))
	}

	cal := calibrate.New(cfgs.calib, logger)
	model := quote.New(cfgs.quote, logger)
	engine := backtest.New(cfgs.engine, cal, model, sinks, logger)
	if deps.ParamsCache != nil {
		engine.WithParamsCache(deps.ParamsCache)
	}

	stream, err := marketdata.Open(ctx, deps.HistoryStore, market)
	if err != nil {
		return a.finishRun(ctx, deps, logger, run, domain.Summary{}, nil, err)
	}
	defer stream.Close()

	summary, err := engine.Run(ctx, stream)
	return a.finishRun(ctx, deps, logger, run, summary, recorder, err)
}

// finishRun persists, archives, and notifies one run's outcome, then
// propagates the engine error (if any).
func (a *App) finishRun(
	ctx context.Context,
	deps *Dependencies,
	logger *slog.Logger,
	run domain.BacktestRun,
	summary domain.Summary,
	recorder *backtest.Recorder,
	runErr error,
) error {
	run.FinishedAt = time.Now().UTC()
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = domain.RunFinished
		run.Summary = summary
	}

	if deps.RunStore != nil {
		if err := deps.RunStore.Finish(ctx, run); err != nil {
			logger.Warn("run record finish failed", slog.String("error", err.Error()))
		}
	}

	if runErr == nil && deps.Archiver != nil && a.cfg.Backtest.ArchiveResults {
		var rows []domain.MetricRow
		if recorder != nil {
			rows = recorder.Rows()
		}
		if err := deps.Archiver.ArchiveRun(ctx, run, rows); err != nil {
			logger.Warn("result archive failed", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		_ = deps.Notifier.Notify(ctx, notify.EventRunFailed,
			fmt.Sprintf("Backtest %s failed", run.Market),
			runErr.Error(),
		)
		return runErr
	}

	logger.Info("backtest finished",
		slog.String("run_id", run.ID),
		slog.String("final_pnl", summary.FinalPnL.String()),
		slog.String("return_pct", summary.ReturnPct.String()),
		slog.Int64("bid_fills", summary.BidFills),
		slog.Int64("ask_fills", summary.AskFills),
		slog.String("volume", summary.Volume.String()),
		slog.String("max_drawdown", summary.MaxDrawdown.String()),
		slog.Int("warmup_windows", summary.WarmupWindows),
	)
	_ = deps.Notifier.Notify(ctx, notify.EventRunFinished,
		fmt.Sprintf("Backtest %s finished", run.Market),
		fmt.Sprintf("pnl=%s return=%s%% fills=%d volume=%s",
			summary.FinalPnL, summary.ReturnPct, summary.TotalFills(), summary.Volume),
	)
	return nil
}

// outputPathFor inserts the market into the output filename when several
// markets run in one invocation, so their files do not clobber each other.
func outputPathFor(path, market string, multi bool) string {
	if !multi {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + market + ext
}

// GridMode sweeps the configured parameter grid for the first market and
// logs the ranked results.
func (a *App) GridMode(ctx context.Context, deps *Dependencies) error {
	market := a.cfg.Data.Markets[0]
	cfgs, err := a.buildConfigs(market)
	if err != nil {
		return err
	}

	runner := grid.NewRunner(
		grid.Config{
			Gammas:   a.cfg.Grid.Gammas,
			Horizons: a.cfg.Grid.Horizons,
			Workers:  a.cfg.Grid.Workers,
		},
		deps.HistoryStore,
		deps.RunStore,
		cfgs.engine,
		cfgs.quote,
		cfgs.calib,
		a.logger,
	)

	results, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: grid search: %w", err)
	}

	for i, res := range results {
		if res.Err != nil {
			a.logger.Warn("grid cell failed",
				slog.Float64("gamma", res.Gamma),
				slog.Int64("horizon_sec", res.HorizonSec),
				slog.String("error", res.Err.Error()),
			)
			continue
		}
		a.logger.Info("grid result",
			slog.Int("rank", i+1),
			slog.Float64("gamma", res.Gamma),
			slog.Int64("horizon_sec", res.HorizonSec),
			slog.String("final_pnl", res.Summary.FinalPnL.String()),
			slog.String("return_pct", res.Summary.ReturnPct.String()),
			slog.Int64("fills", res.Summary.TotalFills()),
		)
	}

	if len(results) > 0 && results[0].Err == nil {
		best := results[0]
		_ = deps.Notifier.Notify(ctx, notify.EventRunFinished,
			fmt.Sprintf("Grid search %s finished", market),
			fmt.Sprintf("best gamma=%g horizon=%ds pnl=%s",
				best.Gamma, best.HorizonSec, best.Summary.FinalPnL),
		)
	}
	return nil
}

// CollectMode runs the websocket collector (and optionally the HTTP server)
// until interrupted.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	part := time.Now().UTC().Format("2006010215")

	writers := make(map[string]domain.HistoryWriter, len(a.cfg.Data.Markets))
	for _, market := range a.cfg.Data.Markets {
		w, err := csvstore.NewWriter(a.cfg.Data.DataDirectory, market, part, a.cfg.Data.MaxDepthLevels)
		if err != nil {
			return fmt.Errorf("app: collector writer for %s: %w", market, err)
		}
		defer w.Close()
		writers[market] = w
	}

	col := collector.New(collector.Config{
		WSURL:         a.cfg.Collector.WSURL,
		Markets:       a.cfg.Data.Markets,
		DepthLevels:   a.cfg.Collector.DepthLevels,
		FlushInterval: a.cfg.Collector.FlushInterval.Duration,
	}, writers, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := col.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			_ = deps.Notifier.Notify(ctx, notify.EventCollectorError, "Collector stopped", err.Error())
		}
		return err
	})
	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		}, deps.RunStore, deps.BlobReader, deps.ParamsCache, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	return g.Wait()
}

// ServeMode runs only the read-only results API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	if deps.RunStore == nil && deps.ParamsCache == nil {
		return fmt.Errorf("app: serve mode needs postgres or redis enabled: %w", ErrConfig)
	}
	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, deps.RunStore, deps.BlobReader, deps.ParamsCache, a.logger)
	return srv.Run(ctx)
}
