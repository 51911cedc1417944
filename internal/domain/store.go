package domain

import (
	"context"
	"io"
	"time"
)

// SnapshotIterator streams orderbook snapshots in chronological order.
// Next returns (nil, nil) at end of stream.
type SnapshotIterator interface {
	Next() (*OrderbookSnapshot, error)
	Close() error
}

// TradeIterator streams trades in chronological order. Next returns
// (nil, nil) at end of stream.
type TradeIterator interface {
	Next() (*Trade, error)
	Close() error
}

// HistoryStore hands out fresh chronological iterators over stored market
// history. Iterators must stream rather than bulk-load; each call returns an
// independent cursor so the merged event stream is restartable.
type HistoryStore interface {
	Snapshots(ctx context.Context, market string) (SnapshotIterator, error)
	Trades(ctx context.Context, market string) (TradeIterator, error)
}

// HistoryWriter appends collected market data. Used by the websocket
// collector; the backtest side only reads.
type HistoryWriter interface {
	AppendSnapshot(ctx context.Context, snap *OrderbookSnapshot) error
	AppendTrade(ctx context.Context, trade *Trade) error
	Flush(ctx context.Context) error
}

// RunStore persists backtest runs and their summaries.
type RunStore interface {
	Create(ctx context.Context, run BacktestRun) error
	Finish(ctx context.Context, run BacktestRun) error
	GetByID(ctx context.Context, id string) (BacktestRun, error)
	ListRecent(ctx context.Context, limit int) ([]BacktestRun, error)
}

// ParamsCache publishes the latest calibrated parameters per market so
// external consumers (dashboards, the status API) can read them without
// touching the engine.
type ParamsCache interface {
	SetParams(ctx context.Context, market string, p CalibratedParams) error
	GetParams(ctx context.Context, market string) (CalibratedParams, error)
}

// RunLock guards against two concurrent backtests holding the same key; the
// backtest mode locks one key per market.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Artifact names under a run's result prefix in object storage.
const (
	ArtifactSummary = "summary.json"
	ArtifactRows    = "rows.jsonl"
)

// RunArtifactPath builds the object-storage key for one artifact of a run:
// results/{market}/{runID}/{name}.
func RunArtifactPath(market, runID, name string) string {
	return "results/" + market + "/" + runID + "/" + name
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
