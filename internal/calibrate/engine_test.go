package calibrate

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

func testSnapshot(tsMs int64, bid, ask string) *domain.OrderbookSnapshot {
	bb := decimal.RequireFromString(bid)
	ba := decimal.RequireFromString(ask)
	depth := decimal.NewFromInt(1)
	return &domain.OrderbookSnapshot{
		TsMs: tsMs,
		Bids: []domain.PriceLevel{
			{Price: bb, Qty: decimal.NewFromInt(1)},
			{Price: bb.Sub(depth), Qty: decimal.NewFromInt(5)},
		},
		Asks: []domain.PriceLevel{
			{Price: ba, Qty: decimal.NewFromInt(1)},
			{Price: ba.Add(depth), Qty: decimal.NewFromInt(5)},
		},
	}
}

func newTestCalibrator(t *testing.T) *Calibrator {
	t.Helper()
	return New(Config{
		WindowSeconds:        3600,
		RecalIntervalSeconds: 60,
		WarmupSeconds:        10,
	}, slog.Default())
}

func TestCalibratorWarmupGatesFitting(t *testing.T) {
	c := newTestCalibrator(t)
	c.AddSnapshot(testSnapshot(0, "99.99", "100.01"))
	assert.False(t, c.ShouldFit(5_000), "warmup has not elapsed")
	assert.True(t, c.ShouldFit(10_000))
}

func TestCalibratorRecalInterval(t *testing.T) {
	c := newTestCalibrator(t)
	for i := int64(0); i < 30; i++ {
		c.AddSnapshot(testSnapshot(i*1000, "99.99", "100.01"))
	}
	_, _ = c.Fit(30_000)
	assert.False(t, c.ShouldFit(60_000), "interval not yet elapsed")
	assert.True(t, c.ShouldFit(90_000))
}

func TestCalibratorEvictsByTimestamp(t *testing.T) {
	c := New(Config{WindowSeconds: 60, RecalIntervalSeconds: 10, WarmupSeconds: 0}, slog.Default())
	for i := int64(0); i < 120; i++ {
		c.AddSnapshot(testSnapshot(i*1000, "99.99", "100.01"))
	}
	c.Evict(120_000)
	assert.LessOrEqual(t, c.PriceCount(), 61)
	assert.GreaterOrEqual(t, c.PriceCount(), 59)
}

func TestCalibratorLookahead(t *testing.T) {
	// Events stamped exactly at the fit time must not move the estimate.
	base := newTestCalibrator(t)
	spiked := newTestCalibrator(t)

	for i := int64(0); i <= 20; i++ {
		base.AddSnapshot(testSnapshot(i*1000, "99.99", "100.01"))
		spiked.AddSnapshot(testSnapshot(i*1000, "99.99", "100.01"))
		tr := domain.Trade{TsMs: i*1000 + 500, Price: decimal.RequireFromString("99.90"), Quantity: decimal.NewFromInt(1), IsBuyerMaker: true}
		base.AddTrade(&tr)
		spiked.AddTrade(&tr)
	}
	// Only the spiked calibrator sees a wild print at exactly t=21s.
	spiked.AddSnapshot(testSnapshot(21_000, "150.00", "150.02"))

	p1, err1 := base.Fit(21_000)
	p2, err2 := spiked.Fit(21_000)
	assert.Equal(t, err1, err2)
	assert.Equal(t, p1.Sigma, p2.Sigma)
}

func TestCalibratorGapClearsWindows(t *testing.T) {
	c := newTestCalibrator(t)
	for i := int64(0); i < 30; i++ {
		c.AddSnapshot(testSnapshot(i*1000, "99.99", "100.01"))
		c.AddTrade(&domain.Trade{TsMs: i * 1000, Price: decimal.RequireFromString("99.99"), Quantity: decimal.NewFromInt(1), IsBuyerMaker: true})
	}
	c.NoteGap(4_000_000)
	assert.Zero(t, c.PriceCount())
	assert.Zero(t, c.TradeCount())
	assert.False(t, c.ShouldFit(4_005_000), "warmup restarts after gap")
}

func TestCalibratorFitPublishesParams(t *testing.T) {
	c := newTestCalibrator(t)
	prices := []string{"100.00", "100.04", "99.98", "100.06", "100.02", "100.08", "99.96", "100.10",
		"100.01", "100.05", "99.99", "100.07", "100.03", "100.09", "99.97", "100.11"}
	for i, p := range prices {
		mid := decimal.RequireFromString(p)
		bid := mid.Sub(decimal.RequireFromString("0.01"))
		ask := mid.Add(decimal.RequireFromString("0.01"))
		c.AddSnapshot(testSnapshot(int64(i)*1000, bid.String(), ask.String()))
	}
	for i := int64(0); i < 12; i++ {
		c.AddTrade(&domain.Trade{TsMs: 200 + i*1000, Price: decimal.RequireFromString("99.95"), Quantity: decimal.NewFromInt(1), IsBuyerMaker: true})
		c.AddTrade(&domain.Trade{TsMs: 300 + i*1000, Price: decimal.RequireFromString("100.05"), Quantity: decimal.NewFromInt(1), IsBuyerMaker: false})
	}

	params, err := c.Fit(16_000)
	require.NoError(t, err)
	assert.True(t, params.Valid())
	assert.Equal(t, int64(16_000), params.LastFitTs)
	assert.Equal(t, params, c.Params())
}
