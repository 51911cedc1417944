// Package quote implements the Avellaneda-Stoikov spread model: reservation
// price, side-specific half-spreads from the calibrated intensity decay, and
// tick/spread safety bounds. Intermediate math runs in float64; only the
// final rounded prices are converted back to decimals.
package quote

import (
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// GammaMode selects how the effective risk aversion is derived.
type GammaMode string

const (
	GammaConstant        GammaMode = "constant"
	GammaInventoryScaled GammaMode = "inventory_scaled"
	GammaMaxShift        GammaMode = "max_shift"
)

// minGamma guards divisions; below it the closed-form gamma->0 limits apply.
const minGamma = 1e-9

// Config holds the spread model parameters.
type Config struct {
	Gamma          float64
	GammaMin       float64
	GammaMax       float64
	Mode           GammaMode
	HorizonSeconds float64
	TickSize       decimal.Decimal
	MinSpreadBps   float64
	MaxSpreadBps   float64
	MakerFeeBps    float64
	MaxShiftTicks  float64
	MinVolatility  float64
	MaxVolatility  float64
	InventoryMax   float64
}

// Model computes optimal quotes from calibrated parameters.
type Model struct {
	cfg    Config
	logger *slog.Logger

	// domainLogged throttles the numeric-domain warning to once per run.
	domainLogged bool
}

// New creates a Model.
func New(cfg Config, logger *slog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "quote_model")),
	}
}

// Compute returns the two-sided quote for the given mid, inventory, and
// calibrated parameters. When params are unfit the default intensity
// parameters are substituted and the quote is marked provisional.
func (m *Model) Compute(tsMs int64, mid decimal.Decimal, inventory decimal.Decimal, params domain.CalibratedParams, validUntilMs int64) domain.Quote {
	midF, _ := mid.Float64()
	invF, _ := inventory.Float64()

	provisional := !params.Valid()
	kappaBid, kappaAsk := params.KappaBid, params.KappaAsk
	if provisional {
		kappaBid, kappaAsk = domain.DefaultKappa, domain.DefaultKappa
	}

	sigma := clampF(params.Sigma, m.cfg.MinVolatility, m.cfg.MaxVolatility)
	sigmaSq := sigma * sigma
	horizon := m.cfg.HorizonSeconds

	gamma := m.effectiveGamma(invF, sigmaSq, midF)

	// Reservation price: r = m - gamma * sigma^2 * T * q.
	reservation := midF - gamma*sigmaSq*horizon*invF
	if reservation <= 0 || !finite(reservation) {
		m.noteDomain("reservation", reservation)
		reservation = midF
	}

	bidHalf := m.halfSpread(gamma, sigmaSq, kappaBid)
	askHalf := m.halfSpread(gamma, sigmaSq, kappaAsk)

	bid := reservation - bidHalf
	ask := reservation + askHalf

	// Spread floor: never quote tighter than the configured minimum or twice
	// the maker fee (a round trip inside the fee band loses money).
	minSpread := math.Max(m.cfg.MinSpreadBps, 2*m.cfg.MakerFeeBps) / 10_000 * midF
	if spread := ask - bid; spread < minSpread {
		pad := (minSpread - spread) / 2
		bid -= pad
		ask += pad
	}
	if m.cfg.MaxSpreadBps > 0 {
		maxSpread := m.cfg.MaxSpreadBps / 10_000 * midF
		if maxSpread < minSpread {
			maxSpread = minSpread
		}
		if spread := ask - bid; spread > maxSpread {
			trim := (spread - maxSpread) / 2
			bid += trim
			ask -= trim
		}
	}

	if !finite(bid) || !finite(ask) {
		m.noteDomain("quote", bid)
		bid, ask = midF-minSpread/2, midF+minSpread/2
	}

	tick := m.cfg.TickSize
	bidPx := roundDownToTick(decimal.NewFromFloat(bid), tick)
	askPx := roundUpToTick(decimal.NewFromFloat(ask), tick)
	if bidPx.LessThanOrEqual(decimal.Zero) {
		bidPx = tick
	}
	if askPx.LessThanOrEqual(bidPx) {
		askPx = bidPx.Add(tick)
	}

	// Reporting values are derived from the rounded quotes so the emitted
	// rows reconstruct exactly.
	resPx := decimal.NewFromFloat(reservation)
	return domain.Quote{
		TsMs:         tsMs,
		Bid:          bidPx,
		Ask:          askPx,
		Reservation:  resPx,
		BidHalf:      resPx.Sub(bidPx),
		AskHalf:      askPx.Sub(resPx),
		ValidUntilMs: validUntilMs,
		Provisional:  provisional,
	}
}

// effectiveGamma resolves the configured gamma mode into a concrete risk
// aversion for this quote.
func (m *Model) effectiveGamma(inv, sigmaSq, mid float64) float64 {
	base := m.cfg.Gamma

	var gamma float64
	switch m.cfg.Mode {
	case GammaInventoryScaled:
		// Zero at neutral inventory, full gamma at the limit.
		if m.cfg.InventoryMax > 0 {
			gamma = base * math.Min(math.Abs(inv)/m.cfg.InventoryMax, 1)
		}
	case GammaMaxShift:
		// Choose gamma so a full inventory shifts the reservation price by
		// exactly max_shift_ticks.
		tick, _ := m.cfg.TickSize.Float64()
		denom := sigmaSq * m.cfg.HorizonSeconds * m.cfg.InventoryMax
		if denom > 0 && tick > 0 {
			gamma = m.cfg.MaxShiftTicks * tick / denom
		} else {
			gamma = base
		}
	default:
		gamma = base
	}

	if m.cfg.GammaMax > m.cfg.GammaMin && m.cfg.GammaMax > 0 {
		gamma = clampF(gamma, m.cfg.GammaMin, m.cfg.GammaMax)
	}
	if !finite(gamma) || gamma < 0 {
		m.noteDomain("gamma", gamma)
		gamma = base
	}
	return gamma
}

// halfSpread is delta_S = gamma*sigma^2*T/2 + ln(1 + gamma/kappa)/gamma, with
// the 1/kappa limit as gamma approaches zero.
func (m *Model) halfSpread(gamma, sigmaSq, kappa float64) float64 {
	if kappa <= 0 {
		kappa = domain.DefaultKappa
	}
	risk := gamma * sigmaSq * m.cfg.HorizonSeconds / 2
	if gamma < minGamma {
		return risk + 1/kappa
	}
	term := math.Log(1 + gamma/kappa)
	if !finite(term) {
		m.noteDomain("log term", term)
		term = gamma / kappa
	}
	return risk + term/gamma
}

func (m *Model) noteDomain(what string, v float64) {
	if m.domainLogged {
		return
	}
	m.domainLogged = true
	m.logger.Warn("numeric domain clamped",
		slog.String("term", what),
		slog.Float64("value", v),
	)
}

func roundDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

func roundUpToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}

func clampF(v, lo, hi float64) float64 {
	if hi > lo {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
