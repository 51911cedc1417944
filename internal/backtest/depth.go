package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// EffectiveSpreadBps walks both book sides until the given notional threshold
// is absorbed and returns the spread between the two marginal prices in basis
// points of the effective mid. It reports false when either side lacks any
// usable depth.
func EffectiveSpreadBps(snap *domain.OrderbookSnapshot, threshold decimal.Decimal) (float64, bool) {
	bid, ok := sideEffectivePrice(snap.Bids, threshold)
	if !ok {
		return 0, false
	}
	ask, ok := sideEffectivePrice(snap.Asks, threshold)
	if !ok {
		return 0, false
	}
	if bid.LessThanOrEqual(decimal.Zero) || ask.LessThanOrEqual(bid) {
		return 0, false
	}

	mid := bid.Add(ask).Div(two)
	bps, _ := ask.Sub(bid).Div(mid).Mul(bpsDivisor).Float64()
	return bps, true
}

var two = decimal.NewFromInt(2)

// sideEffectivePrice returns the marginal price after consuming threshold
// notional from best-first levels. Invalid levels are skipped; a side that
// cannot fully absorb the threshold still reports its deepest touched price.
func sideEffectivePrice(levels []domain.PriceLevel, threshold decimal.Decimal) (decimal.Decimal, bool) {
	if len(levels) == 0 || threshold.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}

	accumulated := decimal.Zero
	final := decimal.Zero
	for _, lvl := range levels {
		if lvl.Price.LessThanOrEqual(decimal.Zero) || lvl.Qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		value := lvl.Price.Mul(lvl.Qty)
		remaining := threshold.Sub(accumulated)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		final = lvl.Price
		if value.GreaterThanOrEqual(remaining) {
			accumulated = threshold
			break
		}
		accumulated = accumulated.Add(value)
	}

	if final.IsZero() {
		return decimal.Zero, false
	}
	return final, true
}
