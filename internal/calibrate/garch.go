package calibrate

import "math"

const (
	// minReturnsForGarch is the smallest sample the GARCH fit accepts.
	minReturnsForGarch = 5
	// maxAlphaBetaSum keeps the fitted process stationary.
	maxAlphaBetaSum = 0.999

	log2Pi = 1.8378770664093453
)

// GarchForecast fits a GARCH(1,1) on 1-second resampled log returns and
// returns the next-step sigma forecast (per-second). The second return is
// false when the series is too short or the fit degenerates; callers then
// fall back to realized volatility.
func GarchForecast(points []PricePoint) (float64, bool) {
	returns := fixedStepReturns(points, 1000)
	if len(returns) < minReturnsForGarch {
		return 0, false
	}

	var meanSq float64
	for _, r := range returns {
		meanSq += r * r
	}
	meanSq /= float64(len(returns))
	if meanSq <= 0 || !isFinite(meanSq) {
		return 0, false
	}

	bestLL := math.Inf(-1)
	bestNext := meanSq
	bestAlpha, bestBeta := 0.1, 0.85

	// Coarse grid over (alpha, beta), then a local refinement.
	for i := 0; i <= 25; i++ {
		alpha := float64(i) * 0.02
		for j := 0; j <= 49; j++ {
			beta := float64(j) * 0.02
			if ll, next, ok := garchLogLik(returns, alpha, beta, meanSq); ok && ll > bestLL {
				bestLL, bestNext = ll, next
				bestAlpha, bestBeta = alpha, beta
			}
		}
	}
	steps := []float64{-0.02, -0.01, -0.005, 0, 0.005, 0.01, 0.02}
	for _, da := range steps {
		for _, db := range steps {
			alpha := math.Max(bestAlpha+da, 0)
			beta := math.Max(bestBeta+db, 0)
			if ll, next, ok := garchLogLik(returns, alpha, beta, meanSq); ok && ll > bestLL {
				bestLL, bestNext = ll, next
			}
		}
	}

	if !isFinite(bestLL) || bestNext <= 0 || !isFinite(bestNext) {
		return 0, false
	}
	return math.Sqrt(bestNext), true
}

// garchLogLik evaluates the normal log-likelihood of a GARCH(1,1) with the
// long-run variance pinned to var0, returning the likelihood and the one-step
// variance forecast.
func garchLogLik(returns []float64, alpha, beta, var0 float64) (ll, next float64, ok bool) {
	if alpha < 0 || beta < 0 || alpha+beta >= maxAlphaBetaSum {
		return 0, 0, false
	}
	omega := var0 * (1 - alpha - beta)
	if omega <= 0 {
		return 0, 0, false
	}

	sigma2 := math.Max(var0, 1e-12)
	for _, r := range returns {
		if sigma2 <= 0 || !isFinite(sigma2) {
			return 0, 0, false
		}
		ll += -0.5 * (log2Pi + math.Log(sigma2) + r*r/sigma2)
		sigma2 = omega + alpha*r*r + beta*sigma2
	}
	return ll, sigma2, true
}

// fixedStepReturns resamples the price series onto a uniform grid via
// previous-tick interpolation and returns the per-step log returns.
func fixedStepReturns(points []PricePoint, stepMs int64) []float64 {
	if stepMs <= 0 {
		return nil
	}

	var cleaned []PricePoint
	for _, p := range points {
		if p.Mid > 0 && isFinite(p.Mid) {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) < 2 {
		return nil
	}

	resampled := make([]float64, 0, len(cleaned)*2)
	last := cleaned[0].Mid
	nextBucket := cleaned[0].TsMs + stepMs
	resampled = append(resampled, last)

	for _, p := range cleaned[1:] {
		for nextBucket <= p.TsMs {
			resampled = append(resampled, last)
			nextBucket += stepMs
		}
		last = p.Mid
	}
	// One final bucket so the last observed price contributes a return.
	resampled = append(resampled, last)

	returns := make([]float64, 0, len(resampled)-1)
	for i := 1; i < len(resampled); i++ {
		lr := math.Log(resampled[i] / resampled[i-1])
		if isFinite(lr) {
			returns = append(returns, lr)
		}
	}
	if len(returns) < 2 {
		return nil
	}
	return returns
}
