package collector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

type captureWriter struct {
	snaps  []*domain.OrderbookSnapshot
	trades []*domain.Trade
	flushs int
}

func (w *captureWriter) AppendSnapshot(ctx context.Context, s *domain.OrderbookSnapshot) error {
	w.snaps = append(w.snaps, s)
	return nil
}

func (w *captureWriter) AppendTrade(ctx context.Context, t *domain.Trade) error {
	w.trades = append(w.trades, t)
	return nil
}

func (w *captureWriter) Flush(ctx context.Context) error {
	w.flushs++
	return nil
}

func newTestCollector(w domain.HistoryWriter) *Collector {
	return New(
		Config{WSURL: "wss://example/stream", Markets: []string{"BTCUSDT"}, DepthLevels: 20, FlushInterval: time.Second},
		map[string]domain.HistoryWriter{"BTCUSDT": w},
		slog.Default(),
	)
}

func TestStreamURL(t *testing.T) {
	c := newTestCollector(&captureWriter{})
	assert.Equal(t,
		"wss://example/stream?streams=btcusdt@depth20@100ms/btcusdt@aggTrade",
		c.streamURL(),
	)
}

func TestHandleAggTradeFrame(t *testing.T) {
	w := &captureWriter{}
	c := newTestCollector(w)

	frame := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","T":1700000000123,"p":"42000.50","q":"0.250","m":true}}`)
	require.NoError(t, c.handleFrame(context.Background(), frame))

	require.Len(t, w.trades, 1)
	tr := w.trades[0]
	assert.Equal(t, int64(1700000000123), tr.TsMs)
	assert.Equal(t, "BTCUSDT", tr.Market)
	assert.Equal(t, "42000.5", tr.Price.String())
	assert.True(t, tr.IsBuyerMaker)
}

func TestHandleDepthFrame(t *testing.T) {
	w := &captureWriter{}
	c := newTestCollector(w)

	frame := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"E":1700000000500,` +
		`"b":[["42000.10","1.5"],["42000.00","2.0"]],"a":[["42000.20","0.7"]]}}`)
	require.NoError(t, c.handleFrame(context.Background(), frame))

	require.Len(t, w.snaps, 1)
	snap := w.snaps[0]
	assert.Equal(t, int64(1700000000500), snap.TsMs)
	assert.Len(t, snap.Bids, 2)
	assert.Len(t, snap.Asks, 1)
	assert.Equal(t, "42000.1", snap.BestBid().String())
}

func TestHandleFrameSkipsZeroLevels(t *testing.T) {
	w := &captureWriter{}
	c := newTestCollector(w)

	frame := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"E":1,` +
		`"b":[["42000.10","0"],["42000.00","2.0"]],"a":[]}}`)
	require.NoError(t, c.handleFrame(context.Background(), frame))

	require.Len(t, w.snaps, 1)
	assert.Len(t, w.snaps[0].Bids, 1, "zero-quantity level must be dropped")
}

func TestHandleFrameUnknownMarket(t *testing.T) {
	c := newTestCollector(&captureWriter{})
	frame := []byte(`{"stream":"ethusdt@aggTrade","data":{"T":1,"p":"1","q":"1","m":false}}`)
	assert.Error(t, c.handleFrame(context.Background(), frame))
}

func TestHandleFrameMalformed(t *testing.T) {
	c := newTestCollector(&captureWriter{})
	assert.Error(t, c.handleFrame(context.Background(), []byte(`{"stream":"nope"}`)))
	assert.Error(t, c.handleFrame(context.Background(), []byte(`not json`)))
}
