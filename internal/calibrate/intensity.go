package calibrate

import (
	"math"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

const (
	// kappaMin and kappaMax bound the 1-D search for the decay parameter.
	kappaMin = 1e-3
	kappaMax = 1e3

	// minTradesPerSide is the smallest per-side sample for a standalone fit;
	// below it the side reuses the opposite side's parameters.
	minTradesPerSide = 5

	goldenRatio = 0.6180339887498949
)

// SideFit holds fitted intensity parameters for one book side.
type SideFit struct {
	A     float64
	Kappa float64
}

type exposureInterval struct {
	durationSec float64
	deltaMin    float64
	deltaMax    float64
}

// FitIntensity estimates (A, kappa) per side with the exposure-aware
// truncated-exponential MLE. Trades are tagged against the most recent
// exposure point at or before their timestamp; exposure intervals weight how
// long each delta band was visible. A side with too few trades reuses the
// other side's fit; when neither side fits, ok is false. The error is
// domain.ErrInsufficientData when fewer than two trades landed on the book in
// total.
func FitIntensity(trades []domain.Trade, points []domain.ExposurePoint, windowEndMs int64) (bid, ask SideFit, ok bool, err error) {
	if len(points) == 0 {
		return SideFit{}, SideFit{}, false, nil
	}

	bidDeltas := collectSideDeltas(trades, points, true)
	askDeltas := collectSideDeltas(trades, points, false)
	if len(bidDeltas)+len(askDeltas) < 2 {
		return SideFit{}, SideFit{}, false, domain.ErrInsufficientData
	}

	bidExp := sideExposures(points, windowEndMs, true)
	askExp := sideExposures(points, windowEndMs, false)

	bidFit, bidOK := fitSide(bidDeltas, bidExp)
	askFit, askOK := fitSide(askDeltas, askExp)

	switch {
	case bidOK && askOK:
		return bidFit, askFit, true, nil
	case bidOK:
		return bidFit, bidFit, true, nil
	case askOK:
		return askFit, askFit, true, nil
	default:
		return SideFit{}, SideFit{}, false, nil
	}
}

// collectSideDeltas returns the distance from mid of every trade executing on
// the given side, measured against the most recent exposure point at or
// before the trade. Trades at or behind the mid are dropped.
func collectSideDeltas(trades []domain.Trade, points []domain.ExposurePoint, bid bool) []float64 {
	deltas := make([]float64, 0, len(trades))
	idx := 0
	for _, t := range trades {
		// Aggressive sells (buyer is maker) execute on the bid side.
		if bid != t.IsBuyerMaker {
			continue
		}
		for idx+1 < len(points) && points[idx+1].TsMs <= t.TsMs {
			idx++
		}
		mid := points[idx].Mid
		if mid <= 0 {
			continue
		}
		price, _ := t.Price.Float64()
		delta := price - mid
		if bid {
			delta = mid - price
		}
		if delta > 0 && isFinite(delta) {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// sideExposures converts exposure points into (duration, delta band)
// intervals for one side. A point with no recorded duration extends to the
// window end.
func sideExposures(points []domain.ExposurePoint, windowEndMs int64, bid bool) []exposureInterval {
	out := make([]exposureInterval, 0, len(points))
	for i, p := range points {
		endMs := p.TsMs + p.DurationMs
		if p.DurationMs <= 0 {
			if i+1 < len(points) {
				endMs = points[i+1].TsMs
			} else {
				endMs = windowEndMs
			}
		}
		if endMs > windowEndMs {
			endMs = windowEndMs
		}
		if endMs <= p.TsMs {
			continue
		}
		dMin, dMax := p.AskDeltaMin, p.AskDeltaMax
		if bid {
			dMin, dMax = p.BidDeltaMin, p.BidDeltaMax
		}
		if !isFinite(dMin) || !isFinite(dMax) || dMax <= dMin || dMax <= 0 {
			continue
		}
		out = append(out, exposureInterval{
			durationSec: float64(endMs-p.TsMs) / 1000.0,
			deltaMin:    dMin,
			deltaMax:    dMax,
		})
	}
	return out
}

// exposureTerm is Σ Δt·(e^{-κ·δmin} - e^{-κ·δmax})/κ, the integral of the
// exponential intensity over the observed (time × price) area. When
// κ·(δmax-δmin) underflows, the first-order expansion Δt·(δmax-δmin)·e^{-κ·δmin}
// is used instead.
func exposureTerm(kappa float64, exposures []exposureInterval) float64 {
	var sum float64
	for _, e := range exposures {
		width := e.deltaMax - e.deltaMin
		if kappa*width < 1e-12 {
			sum += e.durationSec * width * math.Exp(-kappa*e.deltaMin)
			continue
		}
		sum += e.durationSec * (math.Exp(-kappa*e.deltaMin) - math.Exp(-kappa*e.deltaMax)) / kappa
	}
	return sum
}

// profileLogLik is the log-likelihood with A concentrated out:
// n·(ln κ... ) reduces to n·ln(n/E(κ)) - κ·Σδ - n, and the additive
// constants drop for the purposes of maximization.
func profileLogLik(kappa, n, sumDeltas float64, exposures []exposureInterval) float64 {
	if kappa <= 0 || !isFinite(kappa) || n <= 0 || len(exposures) == 0 {
		return math.Inf(-1)
	}
	expo := exposureTerm(kappa, exposures)
	if expo <= 0 || !isFinite(expo) {
		return math.Inf(-1)
	}
	return -n*math.Log(expo) - kappa*sumDeltas
}

// fitSide maximizes the profile likelihood in kappa with a coarse log-space
// scan seeded at the moment-matched guess, then a golden-section refinement,
// and recovers A from the closed form A* = n / E(κ).
func fitSide(deltas []float64, exposures []exposureInterval) (SideFit, bool) {
	if len(deltas) < minTradesPerSide || len(exposures) == 0 {
		return SideFit{}, false
	}

	n := float64(len(deltas))
	var sumDeltas float64
	for _, d := range deltas {
		sumDeltas += d
	}
	if sumDeltas <= 0 || !isFinite(sumDeltas) {
		return SideFit{}, false
	}

	// Moment-matched start: the naive estimator conflates prevailing spread
	// with decay, but it brackets the right order of magnitude.
	start := clamp(n/sumDeltas, kappaMin, kappaMax)

	bestKappa := start
	bestLL := profileLogLik(start, n, sumDeltas, exposures)
	logMin, logMax := math.Log10(kappaMin), math.Log10(kappaMax)
	for i := 0; i <= 60; i++ {
		kappa := math.Pow(10, logMin+float64(i)/60.0*(logMax-logMin))
		if ll := profileLogLik(kappa, n, sumDeltas, exposures); isFinite(ll) && ll > bestLL {
			bestLL, bestKappa = ll, kappa
		}
	}
	if !isFinite(bestLL) {
		return SideFit{}, false
	}

	low := math.Max(bestKappa/5, kappaMin)
	high := math.Min(bestKappa*5, kappaMax)
	if high <= low {
		high = math.Min(low*10, kappaMax)
	}
	c := high - (high-low)*goldenRatio
	d := low + (high-low)*goldenRatio
	fc := profileLogLik(c, n, sumDeltas, exposures)
	fd := profileLogLik(d, n, sumDeltas, exposures)
	for i := 0; i < 48; i++ {
		if fc > fd {
			high, d, fd = d, c, fc
			c = high - (high-low)*goldenRatio
			fc = profileLogLik(c, n, sumDeltas, exposures)
		} else {
			low, c, fc = c, d, fd
			d = low + (high-low)*goldenRatio
			fd = profileLogLik(d, n, sumDeltas, exposures)
		}
	}
	kappa := c
	if fd > fc {
		kappa = d
	}

	expo := exposureTerm(kappa, exposures)
	if expo <= 0 || !isFinite(expo) {
		return SideFit{}, false
	}
	a := n / expo
	if a <= 0 || !isFinite(a) || kappa <= 0 || !isFinite(kappa) {
		return SideFit{}, false
	}
	return SideFit{A: a, Kappa: kappa}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
