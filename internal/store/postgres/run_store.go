package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create records a freshly started run.
func (s *RunStore) Create(ctx context.Context, run domain.BacktestRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backtest_runs (id, market, gamma, gamma_mode, horizon_sec, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Market, run.Gamma, run.GammaMode, run.HorizonSec, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores a run's terminal status and summary.
func (s *RunStore) Finish(ctx context.Context, run domain.BacktestRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backtest_runs SET
			status = $2, error = $3,
			initial_cash = $4, final_cash = $5, final_pnl = $6, return_pct = $7,
			bid_fills = $8, ask_fills = $9, volume = $10, notional_volume = $11,
			max_drawdown = $12, warmup_windows = $13, snapshots = $14,
			first_ts_ms = $15, last_ts_ms = $16, finished_at = $17
		WHERE id = $1`,
		run.ID, run.Status, run.Error,
		run.Summary.InitialCash, run.Summary.FinalCash, run.Summary.FinalPnL, run.Summary.ReturnPct,
		run.Summary.BidFills, run.Summary.AskFills, run.Summary.Volume, run.Summary.NotionalVolume,
		run.Summary.MaxDrawdown, run.Summary.WarmupWindows, run.Summary.Snapshots,
		run.Summary.FirstTsMs, run.Summary.LastTsMs, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

const runSelectCols = `id, market, gamma, gamma_mode, horizon_sec, status, error,
	initial_cash, final_cash, final_pnl, return_pct,
	bid_fills, ask_fills, volume, notional_volume,
	max_drawdown, warmup_windows, snapshots, first_ts_ms, last_ts_ms,
	started_at, finished_at`

func scanRun(row pgx.Row) (domain.BacktestRun, error) {
	var (
		run        domain.BacktestRun
		finishedAt *time.Time
	)
	err := row.Scan(
		&run.ID, &run.Market, &run.Gamma, &run.GammaMode, &run.HorizonSec, &run.Status, &run.Error,
		&run.Summary.InitialCash, &run.Summary.FinalCash, &run.Summary.FinalPnL, &run.Summary.ReturnPct,
		&run.Summary.BidFills, &run.Summary.AskFills, &run.Summary.Volume, &run.Summary.NotionalVolume,
		&run.Summary.MaxDrawdown, &run.Summary.WarmupWindows, &run.Summary.Snapshots,
		&run.Summary.FirstTsMs, &run.Summary.LastTsMs,
		&run.StartedAt, &finishedAt,
	)
	if err != nil {
		return domain.BacktestRun{}, err
	}
	run.Summary.Market = run.Market
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return run, nil
}

// GetByID returns one run, or domain.ErrNotFound.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.BacktestRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runSelectCols+` FROM backtest_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BacktestRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BacktestRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRecent returns the most recently started runs.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runSelectCols+` FROM backtest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return runs, nil
}
