// Package calibrate estimates the Avellaneda-Stoikov model inputs from a
// rolling window of market history: mid-price volatility from log returns and
// per-side fill-intensity parameters from trades weighted by orderbook
// exposure.
package calibrate

import "math"

// PricePoint is one mid-price observation.
type PricePoint struct {
	TsMs int64
	Mid  float64
}

// Volatility returns the per-√second mid-price volatility over the given
// points: the sample standard deviation of log returns between consecutive
// valid mids, scaled by the square root of the mean inter-sample gap.
// The second return is false when fewer than two valid returns exist.
func Volatility(points []PricePoint) (float64, bool) {
	returns, dts := logReturns(points)
	if len(returns) < 2 {
		return 0, false
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	variance := ss / float64(len(returns)-1)

	var totalDt float64
	for _, dt := range dts {
		totalDt += dt
	}
	meanDt := totalDt / float64(len(dts))
	if meanDt <= 0 {
		return 0, false
	}

	sigma := math.Sqrt(variance) / math.Sqrt(meanDt)
	if !isFinite(sigma) {
		return 0, false
	}
	return sigma, true
}

// logReturns builds log returns and their elapsed seconds from consecutive
// valid points. Non-positive or non-finite mids are skipped rather than
// failing the window.
func logReturns(points []PricePoint) (returns, dts []float64) {
	var (
		lastTs  int64
		lastMid float64
		have    bool
	)
	for _, p := range points {
		if p.Mid <= 0 || !isFinite(p.Mid) {
			continue
		}
		if have {
			dt := float64(p.TsMs-lastTs) / 1000.0
			if dt > 0 {
				lr := math.Log(p.Mid / lastMid)
				if isFinite(lr) {
					returns = append(returns, lr)
					dts = append(dts, dt)
				}
			}
		}
		lastTs, lastMid, have = p.TsMs, p.Mid, true
	}
	return returns, dts
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
