package domain

import "github.com/shopspring/decimal"

// MetricRow is the per-snapshot record emitted by the backtest engine.
type MetricRow struct {
	TsMs               int64
	Mid                decimal.Decimal
	Bid                decimal.Decimal
	Ask                decimal.Decimal
	Reservation        decimal.Decimal
	Inventory          decimal.Decimal
	Cash               decimal.Decimal
	PnL                decimal.Decimal
	Sigma              float64
	KappaBid           float64
	KappaAsk           float64
	BidFills           int64
	AskFills           int64
	Volume             decimal.Decimal
	EffectiveSpreadBps float64
	Warmup             bool
}

// Summary aggregates one full backtest run.
type Summary struct {
	Market         string
	InitialCash    decimal.Decimal
	FinalCash      decimal.Decimal
	FinalPnL       decimal.Decimal
	RealizedPnL    decimal.Decimal
	ReturnPct      decimal.Decimal
	BidFills       int64
	AskFills       int64
	Volume         decimal.Decimal
	NotionalVolume decimal.Decimal
	MaxDrawdown    decimal.Decimal
	WarmupWindows  int
	Snapshots      int64
	FirstTsMs      int64
	LastTsMs       int64
}

// TotalFills returns bid plus ask fill counts.
func (s Summary) TotalFills() int64 {
	return s.BidFills + s.AskFills
}

// MetricsSink consumes the engine's output. Implementations are pure
// consumers; they never call back into the engine.
type MetricsSink interface {
	Push(row MetricRow) error
	Finish(summary Summary) error
}
