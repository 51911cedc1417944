// Package backtest drives the event-driven simulation: it replays the merged
// history stream, recalibrates on cadence, posts quotes, simulates maker
// fills between snapshots, enforces inventory and cash limits, and emits
// per-snapshot metrics.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/calibrate"
	"github.com/alanyoungcy/mmlab/internal/domain"
	"github.com/alanyoungcy/mmlab/internal/marketdata"
	"github.com/alanyoungcy/mmlab/internal/quote"
)

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	one        = decimal.NewFromInt(1)
)

// Config holds the engine's trading-simulation parameters. Calibration and
// quoting parameters live in their own packages' configs.
type Config struct {
	Market                   string
	InitialCash              decimal.Decimal
	UnitSize                 decimal.Decimal
	InventoryMax             decimal.Decimal
	MakerFeeBps              decimal.Decimal
	TakerFeeBps              decimal.Decimal
	FillCooldownSeconds      int64
	QuoteValiditySeconds     int64
	GapThresholdSeconds      int64
	WarmupPeriodSeconds      int64
	EffectiveVolumeThreshold decimal.Decimal
	ReportUnrealizedFee      bool
}

// state is the engine's mutable ledger. Exclusively owned by Run; mutated
// only when a staged fill is applied or at liquidation.
type state struct {
	cash           decimal.Decimal
	inventory      decimal.Decimal
	bidFills       int64
	askFills       int64
	volume         decimal.Decimal
	notionalVolume decimal.Decimal
	lastBidFillTs  int64
	lastAskFillTs  int64
}

func (s *state) markToMarket(mid decimal.Decimal) decimal.Decimal {
	return s.cash.Add(s.inventory.Mul(mid))
}

// stagedFill is a candidate fill recorded while walking an interval's trades.
// Side-effects are deferred to the closing snapshot so a cancellation between
// events never exposes a half-applied ledger, and so the sell-priority rule
// can be decided with the whole interval known.
type stagedFill struct {
	ts       int64
	price    decimal.Decimal
	size     decimal.Decimal
	fee      decimal.Decimal
	notional decimal.Decimal
}

// Engine replays history and simulates the quoting strategy.
type Engine struct {
	cfg    Config
	cal    *calibrate.Calibrator
	model  *quote.Model
	sink   domain.MetricsSink
	params domain.ParamsCache // optional publish target
	logger *slog.Logger

	st          state
	activeQuote *domain.Quote
	pendingBid  *stagedFill
	pendingAsk  *stagedFill

	lastSnapTs    int64
	lastMid       decimal.Decimal
	warmupEndTs   int64
	warmupWindows int
	armedOnce     bool
	snapshots     int64
	firstTs       int64

	peakPnL     decimal.Decimal
	maxDrawdown decimal.Decimal
}

// New creates an Engine.
func New(cfg Config, cal *calibrate.Calibrator, model *quote.Model, sink domain.MetricsSink, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		cal:    cal,
		model:  model,
		sink:   sink,
		logger: logger.With(slog.String("component", "backtest_engine"), slog.String("market", cfg.Market)),
		st:     state{cash: cfg.InitialCash},
	}
}

// WithParamsCache makes the engine publish freshly calibrated parameters to
// the given cache after each fit. Publishing is best-effort.
func (e *Engine) WithParamsCache(pc domain.ParamsCache) *Engine {
	e.params = pc
	return e
}

// Run consumes the stream to completion and returns the run summary. The
// driver may cancel between events; ledger state is only ever mutated at the
// end of an event handler. It returns domain.ErrNoData when no snapshot ever
// passed warmup.
func (e *Engine) Run(ctx context.Context, stream *marketdata.Stream) (domain.Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Summary{}, err
		}

		ev, ok, err := stream.Next()
		if err != nil {
			return domain.Summary{}, err
		}
		if !ok {
			break
		}

		if e.firstTs == 0 {
			e.firstTs = ev.TsMs()
		}

		switch {
		case ev.Trade != nil:
			e.onTrade(ev.Trade)
		case ev.Snapshot != nil:
			if err := e.onSnapshot(ctx, ev.Snapshot); err != nil {
				return domain.Summary{}, err
			}
		}
	}

	if !e.armedOnce {
		return domain.Summary{}, domain.ErrNoData
	}

	e.liquidate()
	summary := e.summary()
	if err := e.sink.Finish(summary); err != nil {
		return summary, fmt.Errorf("backtest: finish sink: %w", err)
	}
	return summary, nil
}

// onTrade feeds the calibration window and, when armed with a live quote,
// stages at most one candidate fill per side for the current interval.
func (e *Engine) onTrade(t *domain.Trade) {
	e.cal.AddTrade(t)

	if t.TsMs < e.warmupEndTs || e.warmupEndTs == 0 {
		return
	}
	q := e.activeQuote
	if q == nil || q.Provisional {
		return
	}
	if t.TsMs > q.ValidUntilMs {
		return
	}

	cooldownMs := e.cfg.FillCooldownSeconds * 1000

	if !t.IsBuyerMaker {
		// Aggressive buy: can lift our resting ask.
		if e.pendingAsk != nil || t.Price.LessThan(q.Ask) {
			return
		}
		if e.st.lastAskFillTs > 0 && t.TsMs < e.st.lastAskFillTs+cooldownMs {
			return
		}
		if e.st.inventory.LessThanOrEqual(e.cfg.InventoryMax.Neg()) {
			return
		}
		size := e.fillSize(e.st.inventory.Add(e.cfg.InventoryMax))
		if size.LessThanOrEqual(decimal.Zero) {
			return
		}
		// Conservative: never better than our quote, never worse than the
		// snapshot mid that the quote was built from.
		px := decimal.Max(q.Ask, e.lastMid)
		notional := px.Mul(size)
		e.pendingAsk = &stagedFill{
			ts:       t.TsMs,
			price:    px,
			size:     size,
			fee:      notional.Mul(e.cfg.MakerFeeBps).Div(bpsDivisor),
			notional: notional,
		}
		return
	}

	// Aggressive sell: can hit our resting bid.
	if e.pendingBid != nil || t.Price.GreaterThan(q.Bid) {
		return
	}
	if e.st.lastBidFillTs > 0 && t.TsMs < e.st.lastBidFillTs+cooldownMs {
		return
	}
	if e.st.inventory.GreaterThanOrEqual(e.cfg.InventoryMax) {
		return
	}
	size := e.fillSize(e.cfg.InventoryMax.Sub(e.st.inventory))
	if size.LessThanOrEqual(decimal.Zero) {
		return
	}
	px := decimal.Min(q.Bid, e.lastMid)
	notional := px.Mul(size)
	fee := notional.Mul(e.cfg.MakerFeeBps).Div(bpsDivisor)
	if e.st.cash.LessThan(notional.Add(fee)) {
		// Would cross zero cash: a design outcome, not an error.
		return
	}
	e.pendingBid = &stagedFill{
		ts:       t.TsMs,
		price:    px,
		size:     size,
		fee:      fee,
		notional: notional,
	}
}

// fillSize scales the unit order size down as the side's remaining capacity
// shrinks: unit_size * min(1, capacity / inventory_max).
func (e *Engine) fillSize(capacity decimal.Decimal) decimal.Decimal {
	if e.cfg.InventoryMax.LessThanOrEqual(decimal.Zero) {
		return e.cfg.UnitSize
	}
	frac := capacity.Div(e.cfg.InventoryMax)
	if frac.GreaterThan(one) {
		frac = one
	}
	if frac.LessThan(decimal.Zero) {
		frac = decimal.Zero
	}
	return e.cfg.UnitSize.Mul(frac)
}

// onSnapshot closes the previous interval (applying staged fills), runs gap
// detection, recalibrates when due, refreshes the quote, and emits the
// metric row.
func (e *Engine) onSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error {
	ts := snap.TsMs

	first := e.snapshots == 0
	gap := !first && ts-e.lastSnapTs > e.cfg.GapThresholdSeconds*1000

	if gap {
		// Quotes do not survive a gap; staged fills from the gap interval
		// are discarded along with the quote.
		e.pendingBid, e.pendingAsk = nil, nil
		e.activeQuote = nil
		e.warmupEndTs = ts + e.cfg.WarmupPeriodSeconds*1000
		e.warmupWindows++
		e.cal.NoteGap(ts)
		e.logger.Info("gap detected, re-entering warmup",
			slog.Int64("gap_ms", ts-e.lastSnapTs),
			slog.Int64("warmup_until", e.warmupEndTs),
		)
	} else if first {
		e.warmupEndTs = ts + e.cfg.WarmupPeriodSeconds*1000
		e.warmupWindows++
	}
	e.lastSnapTs = ts
	e.snapshots++

	e.applyStagedFills()

	mid := snap.Mid()
	if mid.GreaterThan(decimal.Zero) {
		e.lastMid = mid
	} else {
		mid = e.lastMid
	}

	// Calibrate before the current snapshot enters the windows: the fit at
	// time t may only see events strictly earlier than t.
	if e.cal.ShouldFit(ts) {
		params, err := e.cal.Fit(ts)
		switch err {
		case nil:
			e.publishParams(ctx, params)
		case domain.ErrInsufficientData, domain.ErrUnfitParams:
			e.logger.Debug("calibration not ready", slog.String("reason", err.Error()))
		default:
			return fmt.Errorf("backtest: calibrate at %d: %w", ts, err)
		}
	}
	e.cal.AddSnapshot(snap)
	e.cal.Evict(ts)

	warmingUp := ts < e.warmupEndTs
	if !warmingUp {
		e.armedOnce = true
	}

	if mid.LessThanOrEqual(decimal.Zero) {
		e.activeQuote = nil
		e.emitRow(snap, mid, warmingUp)
		return nil
	}

	validUntil := ts + e.cfg.QuoteValiditySeconds*1000
	q := e.model.Compute(ts, mid, e.st.inventory, e.cal.Params(), validUntil)
	if warmingUp {
		// Warmup quotes are emitted for observability only; marking them
		// provisional keeps them out of fill simulation.
		q.Provisional = true
	}
	e.activeQuote = &q
	e.emitRow(snap, mid, warmingUp)
	return nil
}

// applyStagedFills commits the previous interval's candidate fills. At most
// one fill per side; when both sides triggered, only the sell survives so a
// bad interval reduces rather than builds inventory.
func (e *Engine) applyStagedFills() {
	bid, ask := e.pendingBid, e.pendingAsk
	e.pendingBid, e.pendingAsk = nil, nil

	if ask != nil && bid != nil {
		bid = nil
	}

	if ask != nil {
		e.st.inventory = e.st.inventory.Sub(ask.size)
		e.st.cash = e.st.cash.Add(ask.notional).Sub(ask.fee)
		e.st.askFills++
		e.st.volume = e.st.volume.Add(ask.size)
		e.st.notionalVolume = e.st.notionalVolume.Add(ask.notional)
		e.st.lastAskFillTs = ask.ts
	}
	if bid != nil {
		e.st.inventory = e.st.inventory.Add(bid.size)
		e.st.cash = e.st.cash.Sub(bid.notional).Sub(bid.fee)
		e.st.bidFills++
		e.st.volume = e.st.volume.Add(bid.size)
		e.st.notionalVolume = e.st.notionalVolume.Add(bid.notional)
		e.st.lastBidFillTs = bid.ts
	}
}

// liquidate closes any residual inventory at the last observed mid as a
// market order, paying the taker fee.
func (e *Engine) liquidate() {
	if e.st.inventory.IsZero() || e.lastMid.LessThanOrEqual(decimal.Zero) {
		return
	}

	qty := e.st.inventory.Abs()
	notional := e.lastMid.Mul(qty)
	fee := notional.Mul(e.cfg.TakerFeeBps).Div(bpsDivisor)

	if e.st.inventory.GreaterThan(decimal.Zero) {
		e.st.cash = e.st.cash.Add(notional).Sub(fee)
	} else {
		e.st.cash = e.st.cash.Sub(notional).Sub(fee)
	}
	e.st.volume = e.st.volume.Add(qty)
	e.st.notionalVolume = e.st.notionalVolume.Add(notional)
	e.st.inventory = decimal.Zero

	e.logger.Info("closed residual position",
		slog.String("qty", qty.String()),
		slog.String("mid", e.lastMid.String()),
		slog.String("fee", fee.String()),
	)
}

func (e *Engine) emitRow(snap *domain.OrderbookSnapshot, mid decimal.Decimal, warmup bool) {
	pnl := e.st.markToMarket(mid).Sub(e.cfg.InitialCash)
	if e.cfg.ReportUnrealizedFee && !e.st.inventory.IsZero() {
		pnl = pnl.Sub(mid.Mul(e.st.inventory.Abs()).Mul(e.cfg.TakerFeeBps).Div(bpsDivisor))
	}

	if pnl.GreaterThan(e.peakPnL) {
		e.peakPnL = pnl
	}
	if dd := e.peakPnL.Sub(pnl); dd.GreaterThan(e.maxDrawdown) {
		e.maxDrawdown = dd
	}

	row := domain.MetricRow{
		TsMs:      snap.TsMs,
		Mid:       mid,
		Inventory: e.st.inventory,
		Cash:      e.st.cash,
		PnL:       pnl,
		BidFills:  e.st.bidFills,
		AskFills:  e.st.askFills,
		Volume:    e.st.volume,
		Warmup:    warmup,
	}
	params := e.cal.Params()
	row.Sigma = params.Sigma
	row.KappaBid = params.KappaBid
	row.KappaAsk = params.KappaAsk
	if q := e.activeQuote; q != nil {
		row.Bid = q.Bid
		row.Ask = q.Ask
		row.Reservation = q.Reservation
	}
	if e.cfg.EffectiveVolumeThreshold.GreaterThan(decimal.Zero) {
		if bps, ok := EffectiveSpreadBps(snap, e.cfg.EffectiveVolumeThreshold); ok {
			row.EffectiveSpreadBps = bps
		}
	}

	if err := e.sink.Push(row); err != nil {
		e.logger.Warn("metrics sink rejected row", slog.String("error", err.Error()))
	}
}

func (e *Engine) publishParams(ctx context.Context, params domain.CalibratedParams) {
	if e.params == nil {
		return
	}
	if err := e.params.SetParams(ctx, e.cfg.Market, params); err != nil {
		e.logger.Debug("params publish failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) summary() domain.Summary {
	finalPnL := e.st.cash.Sub(e.cfg.InitialCash)
	returnPct := decimal.Zero
	if e.cfg.InitialCash.GreaterThan(decimal.Zero) {
		returnPct = finalPnL.Div(e.cfg.InitialCash).Mul(decimal.NewFromInt(100))
	}
	return domain.Summary{
		Market:         e.cfg.Market,
		InitialCash:    e.cfg.InitialCash,
		FinalCash:      e.st.cash,
		FinalPnL:       finalPnL,
		RealizedPnL:    finalPnL,
		ReturnPct:      returnPct,
		BidFills:       e.st.bidFills,
		AskFills:       e.st.askFills,
		Volume:         e.st.volume,
		NotionalVolume: e.st.notionalVolume,
		MaxDrawdown:    e.maxDrawdown,
		WarmupWindows:  e.warmupWindows,
		Snapshots:      e.snapshots,
		FirstTsMs:      e.firstTs,
		LastTsMs:       e.lastSnapTs,
	}
}
