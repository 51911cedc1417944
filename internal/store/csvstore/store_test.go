package csvstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

func TestWriterStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w, err := NewWriter(dir, "BTCUSDT", "2026010100", 2)
	require.NoError(t, err)

	snap := &domain.OrderbookSnapshot{
		TsMs: 1000,
		Bids: []domain.PriceLevel{
			{Price: decimal.RequireFromString("99.90"), Qty: decimal.NewFromInt(2)},
			{Price: decimal.RequireFromString("99.80"), Qty: decimal.NewFromInt(4)},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.RequireFromString("100.10"), Qty: decimal.NewFromInt(3)},
		},
	}
	require.NoError(t, w.AppendSnapshot(ctx, snap))
	require.NoError(t, w.AppendTrade(ctx, &domain.Trade{
		TsMs:         1500,
		Price:        decimal.RequireFromString("100.10"),
		Quantity:     decimal.RequireFromString("0.5"),
		IsBuyerMaker: false,
	}))
	require.NoError(t, w.AppendTrade(ctx, &domain.Trade{
		TsMs:         1600,
		Price:        decimal.RequireFromString("99.90"),
		Quantity:     decimal.NewFromInt(1),
		IsBuyerMaker: true,
	}))
	require.NoError(t, w.Close())

	store := New(dir, 0)

	snaps, err := store.Snapshots(ctx, "BTCUSDT")
	require.NoError(t, err)
	defer snaps.Close()

	got, err := snaps.Next()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.TsMs)
	require.Len(t, got.Bids, 2)
	// The zero-padded second ask level must not come back as a book level.
	require.Len(t, got.Asks, 1)
	assert.True(t, got.Bids[0].Price.Equal(decimal.RequireFromString("99.90")))

	end, err := snaps.Next()
	require.NoError(t, err)
	assert.Nil(t, end)

	trades, err := store.Trades(ctx, "BTCUSDT")
	require.NoError(t, err)
	defer trades.Close()

	t1, err := trades.Next()
	require.NoError(t, err)
	require.NotNil(t, t1)
	assert.False(t, t1.IsBuyerMaker)
	assert.True(t, t1.Quantity.Equal(decimal.RequireFromString("0.5")))

	t2, err := trades.Next()
	require.NoError(t, err)
	require.NotNil(t, t2)
	assert.True(t, t2.IsBuyerMaker)

	end2, err := trades.Next()
	require.NoError(t, err)
	assert.Nil(t, end2)
}

func TestStorePartFilesStreamInOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for i, part := range []string{"2026010100", "2026010101"} {
		w, err := NewWriter(dir, "ETHUSDT", part, 1)
		require.NoError(t, err)
		require.NoError(t, w.AppendTrade(ctx, &domain.Trade{
			TsMs:     int64(i+1) * 1000,
			Price:    decimal.NewFromInt(3000),
			Quantity: decimal.NewFromInt(1),
		}))
		require.NoError(t, w.Close())
	}

	store := New(dir, 0)
	it, err := store.Trades(ctx, "ETHUSDT")
	require.NoError(t, err)
	defer it.Close()

	var ts []int64
	for {
		tr, err := it.Next()
		require.NoError(t, err)
		if tr == nil {
			break
		}
		ts = append(ts, tr.TsMs)
	}
	assert.Equal(t, []int64{1000, 2000}, ts)
}

func TestStoreMissingMarket(t *testing.T) {
	store := New(t.TempDir(), 0)
	_, err := store.Snapshots(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestStoreDepthCap(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w, err := NewWriter(dir, "BTCUSDT", "p0", 3)
	require.NoError(t, err)
	snap := &domain.OrderbookSnapshot{
		TsMs: 1,
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromInt(99), Qty: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(98), Qty: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(97), Qty: decimal.NewFromInt(1)},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(102), Qty: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(103), Qty: decimal.NewFromInt(1)},
		},
	}
	require.NoError(t, w.AppendSnapshot(ctx, snap))
	require.NoError(t, w.Close())

	store := New(dir, 2)
	it, err := store.Snapshots(ctx, "BTCUSDT")
	require.NoError(t, err)
	defer it.Close()

	got, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Bids, 2)
	assert.Len(t, got.Asks, 2)
}
