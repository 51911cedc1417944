package calibrate

import (
	"log/slog"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// Config holds the calibrator's window and cadence settings.
type Config struct {
	WindowSeconds        int64
	RecalIntervalSeconds int64
	WarmupSeconds        int64
	UseGarch             bool
}

// Calibrator maintains sliding time windows of mid prices, trades, and
// orderbook exposure points, and refits the model parameters on a fixed
// wall-clock cadence. It is owned by the single engine goroutine; no locking.
type Calibrator struct {
	cfg    Config
	logger *slog.Logger

	prices []PricePoint
	points []domain.ExposurePoint
	trades []domain.Trade

	// fullPrices grows for the whole run; the GARCH forecast needs history
	// beyond the rolling window and only ever looks backward.
	fullPrices []PricePoint

	params      domain.CalibratedParams
	dataStartMs int64
	haveData    bool
}

// New creates a Calibrator.
func New(cfg Config, logger *slog.Logger) *Calibrator {
	return &Calibrator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "calibrator")),
	}
}

// AddTrade records a trade into the rolling window.
func (c *Calibrator) AddTrade(t *domain.Trade) {
	c.noteData(t.TsMs)
	c.trades = append(c.trades, *t)
}

// AddSnapshot records a snapshot's mid and exposure band into the rolling
// windows. The previous exposure point's duration is closed off by the new
// snapshot's timestamp.
func (c *Calibrator) AddSnapshot(snap *domain.OrderbookSnapshot) {
	c.noteData(snap.TsMs)

	mid, _ := snap.Mid().Float64()
	if mid <= 0 {
		return
	}
	c.prices = append(c.prices, PricePoint{TsMs: snap.TsMs, Mid: mid})
	c.fullPrices = append(c.fullPrices, PricePoint{TsMs: snap.TsMs, Mid: mid})

	if n := len(c.points); n > 0 && c.points[n-1].DurationMs <= 0 {
		c.points[n-1].DurationMs = snap.TsMs - c.points[n-1].TsMs
	}

	bestBid, _ := snap.BestBid().Float64()
	bestAsk, _ := snap.BestAsk().Float64()
	if bestBid <= 0 || bestAsk <= 0 {
		return
	}
	worstBid := bestBid
	if n := len(snap.Bids); n > 0 {
		worstBid, _ = snap.Bids[n-1].Price.Float64()
	}
	worstAsk := bestAsk
	if n := len(snap.Asks); n > 0 {
		worstAsk, _ = snap.Asks[n-1].Price.Float64()
	}

	c.points = append(c.points, domain.ExposurePoint{
		TsMs:        snap.TsMs,
		Mid:         mid,
		BidDeltaMin: mid - bestBid,
		BidDeltaMax: mid - worstBid,
		AskDeltaMin: bestAsk - mid,
		AskDeltaMax: worstAsk - mid,
	})
}

// NoteGap restarts the warm-up clock after a data gap. The rolling windows
// are cleared so stale pre-gap history cannot leak into the next fit.
func (c *Calibrator) NoteGap(tsMs int64) {
	c.dataStartMs = tsMs
	c.haveData = true
	c.prices = c.prices[:0]
	c.points = c.points[:0]
	c.trades = c.trades[:0]
}

// Evict drops window entries older than the calibration window.
func (c *Calibrator) Evict(nowMs int64) {
	cutoff := nowMs - c.cfg.WindowSeconds*1000
	c.prices = evictPrices(c.prices, cutoff)
	c.trades = evictTrades(c.trades, cutoff)
	c.points = evictPoints(c.points, cutoff)
}

// ShouldFit reports whether a recalibration is due at nowMs: the cadence
// interval has elapsed since the last fit and at least the warm-up period of
// data has accumulated since the run start or the last gap.
func (c *Calibrator) ShouldFit(nowMs int64) bool {
	if !c.haveData || nowMs-c.dataStartMs < c.cfg.WarmupSeconds*1000 {
		return false
	}
	if c.params.LastFitTs == 0 {
		return true
	}
	return nowMs-c.params.LastFitTs >= c.cfg.RecalIntervalSeconds*1000
}

// Fit recalibrates at nowMs using only events strictly earlier than nowMs and
// publishes the new parameters. Events stamped exactly at nowMs are left for
// the next tick. On an unfit result the previous valid side parameters are
// retained, matching the engine's last-published-params semantics.
func (c *Calibrator) Fit(nowMs int64) (domain.CalibratedParams, error) {
	prices := pricesBefore(c.prices, nowMs)
	trades := tradesBefore(c.trades, nowMs)
	points := pointsBefore(c.points, nowMs)

	sigma, sigmaOK := 0.0, false
	if c.cfg.UseGarch {
		sigma, sigmaOK = GarchForecast(pricesBefore(c.fullPrices, nowMs))
	}
	if !sigmaOK {
		sigma, sigmaOK = Volatility(prices)
	}

	bid, ask, intensityOK, err := FitIntensity(trades, points, nowMs)
	if err != nil {
		c.params.LastFitTs = nowMs
		return c.params, err
	}

	next := c.params
	next.LastFitTs = nowMs
	if sigmaOK && sigma > 0 {
		next.Sigma = sigma
	}
	if intensityOK {
		next.ABid, next.KappaBid = bid.A, bid.Kappa
		next.AAsk, next.KappaAsk = ask.A, ask.Kappa
	}
	next.Fit = next.Sigma > 0 && next.KappaBid > 0 && next.KappaAsk > 0

	c.params = next
	if !next.Fit {
		return next, domain.ErrUnfitParams
	}
	return next, nil
}

// Params returns the last published parameters.
func (c *Calibrator) Params() domain.CalibratedParams {
	return c.params
}

// Seed installs externally supplied parameters as the current fit, e.g. when
// a grid-search run reuses a calibration from a previous pass.
func (c *Calibrator) Seed(p domain.CalibratedParams) {
	c.params = p
}

// PriceCount returns the number of mids currently in the rolling window.
func (c *Calibrator) PriceCount() int {
	return len(c.prices)
}

// TradeCount returns the number of trades currently in the rolling window.
func (c *Calibrator) TradeCount() int {
	return len(c.trades)
}

func (c *Calibrator) noteData(tsMs int64) {
	if !c.haveData {
		c.dataStartMs = tsMs
		c.haveData = true
	}
}

// The evict helpers shift in place from the front; windows are
// timestamp-ordered so a single scan finds the cut point.

func evictPrices(s []PricePoint, cutoff int64) []PricePoint {
	i := 0
	for i < len(s) && s[i].TsMs < cutoff {
		i++
	}
	if i == 0 {
		return s
	}
	return append(s[:0], s[i:]...)
}

func evictTrades(s []domain.Trade, cutoff int64) []domain.Trade {
	i := 0
	for i < len(s) && s[i].TsMs < cutoff {
		i++
	}
	if i == 0 {
		return s
	}
	return append(s[:0], s[i:]...)
}

func evictPoints(s []domain.ExposurePoint, cutoff int64) []domain.ExposurePoint {
	i := 0
	for i < len(s) && s[i].TsMs < cutoff {
		i++
	}
	if i == 0 {
		return s
	}
	return append(s[:0], s[i:]...)
}

func pricesBefore(s []PricePoint, ts int64) []PricePoint {
	i := len(s)
	for i > 0 && s[i-1].TsMs >= ts {
		i--
	}
	return s[:i]
}

func tradesBefore(s []domain.Trade, ts int64) []domain.Trade {
	i := len(s)
	for i > 0 && s[i-1].TsMs >= ts {
		i--
	}
	return s[:i]
}

func pointsBefore(s []domain.ExposurePoint, ts int64) []domain.ExposurePoint {
	i := len(s)
	for i > 0 && s[i-1].TsMs >= ts {
		i--
	}
	return s[:i]
}
