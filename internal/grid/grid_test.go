package grid

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/backtest"
	"github.com/alanyoungcy/mmlab/internal/calibrate"
	"github.com/alanyoungcy/mmlab/internal/domain"
	"github.com/alanyoungcy/mmlab/internal/quote"
)

type memStore struct {
	snaps  []*domain.OrderbookSnapshot
	trades []*domain.Trade
}

type memSnapIter struct {
	items []*domain.OrderbookSnapshot
	pos   int
}

func (it *memSnapIter) Next() (*domain.OrderbookSnapshot, error) {
	if it.pos >= len(it.items) {
		return nil, nil
	}
	s := it.items[it.pos]
	it.pos++
	return s, nil
}

func (it *memSnapIter) Close() error { return nil }

type memTradeIter struct {
	items []*domain.Trade
	pos   int
}

func (it *memTradeIter) Next() (*domain.Trade, error) {
	if it.pos >= len(it.items) {
		return nil, nil
	}
	t := it.items[it.pos]
	it.pos++
	return t, nil
}

func (it *memTradeIter) Close() error { return nil }

func (m *memStore) Snapshots(ctx context.Context, market string) (domain.SnapshotIterator, error) {
	return &memSnapIter{items: m.snaps}, nil
}

func (m *memStore) Trades(ctx context.Context, market string) (domain.TradeIterator, error) {
	return &memTradeIter{items: m.trades}, nil
}

func level(px string, qty int64) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(px), Qty: decimal.NewFromInt(qty)}
}

func fixtureStore() *memStore {
	var snaps []*domain.OrderbookSnapshot
	for i := int64(0); i < 20; i++ {
		snaps = append(snaps, &domain.OrderbookSnapshot{
			TsMs: 1000 + i*1000,
			Bids: []domain.PriceLevel{level("99.99", 1), level("99.00", 5)},
			Asks: []domain.PriceLevel{level("100.01", 1), level("101.00", 5)},
		})
	}
	var trades []*domain.Trade
	for i := int64(0); i < 19; i++ {
		trades = append(trades, &domain.Trade{
			TsMs:         1500 + i*1000,
			Price:        decimal.RequireFromString("99.95"),
			Quantity:     decimal.NewFromInt(1),
			IsBuyerMaker: true,
		})
	}
	return &memStore{snaps: snaps, trades: trades}
}

func TestRunnerSweepsAllCells(t *testing.T) {
	r := NewRunner(
		Config{Gammas: []float64{0.05, 0.5}, Horizons: []int64{60, 600}, Workers: 2},
		fixtureStore(),
		nil,
		backtest.Config{
			Market:               "BTCUSDT",
			InitialCash:          decimal.NewFromInt(10_000),
			UnitSize:             decimal.NewFromInt(1),
			InventoryMax:         decimal.NewFromInt(5),
			MakerFeeBps:          decimal.NewFromInt(1),
			TakerFeeBps:          decimal.RequireFromString("4.5"),
			QuoteValiditySeconds: 60,
			GapThresholdSeconds:  1800,
			WarmupPeriodSeconds:  2,
		},
		quote.Config{
			Mode:          quote.GammaConstant,
			TickSize:      decimal.RequireFromString("0.01"),
			MinSpreadBps:  2,
			MaxSpreadBps:  100,
			MakerFeeBps:   1,
			MaxVolatility: 0.02,
			InventoryMax:  5,
		},
		calibrate.Config{WindowSeconds: 3600, RecalIntervalSeconds: 5, WarmupSeconds: 2},
		slog.Default(),
	)

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	seen := map[[2]int64]bool{}
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.NotEmpty(t, res.RunID)
		seen[[2]int64{int64(res.Gamma * 100), res.HorizonSec}] = true
	}
	assert.Len(t, seen, 4, "every grid cell ran exactly once")

	// Ranked best-first.
	for i := 1; i < len(results); i++ {
		assert.True(t, results[i-1].Summary.FinalPnL.GreaterThanOrEqual(results[i].Summary.FinalPnL))
	}
}

func TestRunnerEmptyGrid(t *testing.T) {
	r := NewRunner(Config{}, fixtureStore(), nil,
		backtest.Config{}, quote.Config{}, calibrate.Config{}, slog.Default())
	_, err := r.Run(context.Background())
	assert.Error(t, err)
}
