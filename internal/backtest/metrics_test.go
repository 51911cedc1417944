package backtest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

func metricRow(ts int64, pnl string) domain.MetricRow {
	return domain.MetricRow{
		TsMs:        ts,
		Mid:         decimal.NewFromInt(100),
		Bid:         decimal.RequireFromString("99.90"),
		Ask:         decimal.RequireFromString("100.10"),
		Reservation: decimal.NewFromInt(100),
		Cash:        decimal.NewFromInt(10_000),
		PnL:         decimal.RequireFromString(pnl),
	}
}

func TestRecorderRingBounded(t *testing.T) {
	r := NewRecorder(3)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, r.Push(metricRow(i, "0")))
	}
	rows := r.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, int64(7), rows[0].TsMs)
	assert.Equal(t, int64(9), rows[2].TsMs)
	assert.Equal(t, int64(10), r.Total())
}

func TestRecorderSummary(t *testing.T) {
	r := NewRecorder(4)
	_, ok := r.Summary()
	assert.False(t, ok)

	want := domain.Summary{Market: "BTCUSDT", BidFills: 2}
	require.NoError(t, r.Finish(want))
	got, ok := r.Summary()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSVSink(&buf)
	require.NoError(t, sink.Push(metricRow(1, "0")))
	require.NoError(t, sink.Push(metricRow(2, "1.5")))
	require.NoError(t, sink.Finish(domain.Summary{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,mid,bid,ask"))
	assert.True(t, strings.HasPrefix(lines[1], "1,100,99.9,100.1"))
}

func TestTeeFansOut(t *testing.T) {
	r1 := NewRecorder(8)
	r2 := NewRecorder(8)
	tee := Tee{r1, r2}

	require.NoError(t, tee.Push(metricRow(1, "0")))
	require.NoError(t, tee.Finish(domain.Summary{Snapshots: 1}))

	assert.Equal(t, int64(1), r1.Total())
	assert.Equal(t, int64(1), r2.Total())
	s, ok := r2.Summary()
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Snapshots)
}

func TestEffectiveSpread(t *testing.T) {
	snap := &domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(5)},  // 500 notional
			{Price: decimal.NewFromInt(99), Qty: decimal.NewFromInt(10)}, // 990 notional
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(20)}, // 2020 notional
		},
	}

	bps, ok := EffectiveSpreadBps(snap, decimal.NewFromInt(1000))
	require.True(t, ok)
	// Bid side walks to 99, ask side is absorbed at 101: spread 2 on mid 100.
	assert.InDelta(t, 200, bps, 1)
}

func TestEffectiveSpreadEmptySide(t *testing.T) {
	snap := &domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(5)}},
	}
	_, ok := EffectiveSpreadBps(snap, decimal.NewFromInt(1000))
	assert.False(t, ok)
}
