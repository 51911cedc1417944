package calibrate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

func exposurePoint(tsMs int64, mid, dMin, dMax float64, durMs int64) domain.ExposurePoint {
	return domain.ExposurePoint{
		TsMs:        tsMs,
		Mid:         mid,
		BidDeltaMin: dMin,
		BidDeltaMax: dMax,
		AskDeltaMin: dMin,
		AskDeltaMax: dMax,
		DurationMs:  durMs,
	}
}

func TestFitIntensityNoPoints(t *testing.T) {
	_, _, ok, err := FitIntensity(nil, nil, 1000)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestFitIntensityTooFewTrades(t *testing.T) {
	points := []domain.ExposurePoint{exposurePoint(0, 100, 0.05, 1.0, 5000)}
	trades := []domain.Trade{{
		TsMs:         100,
		Price:        decimal.RequireFromString("99.9"),
		Quantity:     decimal.NewFromInt(1),
		IsBuyerMaker: true,
	}}
	_, _, ok, err := FitIntensity(trades, points, 5000)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestFitIntensityBothSides(t *testing.T) {
	points := []domain.ExposurePoint{
		exposurePoint(0, 100, 0.05, 1.0, 4000),
		exposurePoint(4000, 100, 0.04, 0.8, 1000),
	}
	var trades []domain.Trade
	for i := int64(0); i < 5; i++ {
		trades = append(trades,
			domain.Trade{
				TsMs:         1000 + i*200,
				Price:        decimal.RequireFromString("99.9"),
				Quantity:     decimal.NewFromInt(1),
				IsBuyerMaker: true, // hits the bid
			},
			domain.Trade{
				TsMs:         1100 + i*200,
				Price:        decimal.RequireFromString("100.1"),
				Quantity:     decimal.NewFromInt(1),
				IsBuyerMaker: false, // lifts the ask
			},
		)
	}

	bid, ask, ok, err := FitIntensity(trades, points, 5000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, bid.A, 0.0)
	assert.Greater(t, bid.Kappa, 0.0)
	assert.Greater(t, ask.A, 0.0)
	assert.Greater(t, ask.Kappa, 0.0)
}

func TestFitIntensityOneSideReusesOther(t *testing.T) {
	points := []domain.ExposurePoint{exposurePoint(0, 100, 0.05, 1.0, 10000)}
	// Only ask-side trades.
	var trades []domain.Trade
	for i := int64(0); i < 8; i++ {
		trades = append(trades, domain.Trade{
			TsMs:         500 + i*1000,
			Price:        decimal.RequireFromString("100.2"),
			Quantity:     decimal.NewFromInt(1),
			IsBuyerMaker: false,
		})
	}

	bid, ask, ok, err := FitIntensity(trades, points, 10000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ask, bid)
}

func TestFitIntensityAsymmetricKappa(t *testing.T) {
	// Steeper decay on the ask side: ask trades cluster near the mid while
	// bid trades spread deeper. The fitted ask kappa must come out larger.
	rng := rand.New(rand.NewSource(7))
	points := []domain.ExposurePoint{exposurePoint(0, 100, 0.0, 2.0, 3_600_000)}

	var trades []domain.Trade
	for i := 0; i < 2000; i++ {
		ts := int64(rng.Intn(3_600_000))
		bidDelta := sampleTruncExp(rng, 5, 0.0, 2.0)
		askDelta := sampleTruncExp(rng, 20, 0.0, 2.0)
		trades = append(trades,
			domain.Trade{TsMs: ts, Price: decimal.NewFromFloat(100 - bidDelta), Quantity: decimal.NewFromInt(1), IsBuyerMaker: true},
			domain.Trade{TsMs: ts, Price: decimal.NewFromFloat(100 + askDelta), Quantity: decimal.NewFromInt(1), IsBuyerMaker: false},
		)
	}

	bid, ask, ok, err := FitIntensity(trades, points, 3_600_000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, ask.Kappa, bid.Kappa)
}

// sampleTruncExp draws a delta from the truncated exponential density
// proportional to exp(-kappa*d) on [dMin, dMax].
func sampleTruncExp(rng *rand.Rand, kappa, dMin, dMax float64) float64 {
	u := rng.Float64()
	lo := math.Exp(-kappa * dMin)
	hi := math.Exp(-kappa * dMax)
	return -math.Log(lo-u*(lo-hi)) / kappa
}

func TestFitIntensityRecoversKnownParameters(t *testing.T) {
	// Synthetic Poisson arrivals with known (A, kappa) over a known constant
	// exposure band; the estimator must land within 5% relative error.
	const (
		aTrue     = 2.0  // events per second at delta 0
		kappaTrue = 10.0 // per price unit
		dMin      = 0.01
		dMax      = 1.0
		mid       = 100.0
	)
	rng := rand.New(rand.NewSource(42))

	// Expected event count over T seconds: A * T * (e^{-k dMin} - e^{-k dMax}) / k.
	integral := (math.Exp(-kappaTrue*dMin) - math.Exp(-kappaTrue*dMax)) / kappaTrue
	const horizonSec = 60_000.0
	n := int(aTrue * horizonSec * integral)
	require.GreaterOrEqual(t, n, 10_000)

	points := []domain.ExposurePoint{exposurePoint(0, mid, dMin, dMax, int64(horizonSec*1000))}
	trades := make([]domain.Trade, 0, n)
	for i := 0; i < n; i++ {
		delta := sampleTruncExp(rng, kappaTrue, dMin, dMax)
		trades = append(trades, domain.Trade{
			TsMs:         int64(rng.Float64() * horizonSec * 1000),
			Price:        decimal.NewFromFloat(mid - delta),
			Quantity:     decimal.NewFromInt(1),
			IsBuyerMaker: true,
		})
	}

	bid, _, ok, err := FitIntensity(trades, points, int64(horizonSec*1000))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InEpsilon(t, kappaTrue, bid.Kappa, 0.05)
	assert.InEpsilon(t, aTrue, bid.A, 0.05)
}

func TestExposureTermFirstOrderFallback(t *testing.T) {
	// A vanishingly narrow band must degrade to dt * width * exp(-k*dMin)
	// instead of dividing by a zero difference.
	exps := []exposureInterval{{durationSec: 10, deltaMin: 0.5, deltaMax: 0.5 + 1e-15}}
	got := exposureTerm(1.0, exps)
	width := exps[0].deltaMax - exps[0].deltaMin
	want := 10 * width * math.Exp(-0.5)
	assert.InEpsilon(t, want, got, 1e-9)
}
