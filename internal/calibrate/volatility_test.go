package calibrate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolatilityEmpty(t *testing.T) {
	_, ok := Volatility(nil)
	assert.False(t, ok)
}

func TestVolatilitySinglePoint(t *testing.T) {
	_, ok := Volatility([]PricePoint{{TsMs: 0, Mid: 100}})
	assert.False(t, ok)
}

func TestVolatilityTwoPoints(t *testing.T) {
	// Two prices give only one return, below the minimum of two.
	_, ok := Volatility([]PricePoint{
		{TsMs: 0, Mid: 100},
		{TsMs: 1000, Mid: 101},
	})
	assert.False(t, ok)
}

func TestVolatilityConstantPrices(t *testing.T) {
	points := make([]PricePoint, 10)
	for i := range points {
		points[i] = PricePoint{TsMs: int64(i) * 1000, Mid: 100}
	}
	sigma, ok := Volatility(points)
	require.True(t, ok)
	assert.Zero(t, sigma)
}

func TestVolatilityMatchesHandComputation(t *testing.T) {
	points := []PricePoint{
		{TsMs: 0, Mid: 100},
		{TsMs: 1000, Mid: 101},
		{TsMs: 3000, Mid: 100.5},
	}
	r1 := math.Log(101.0 / 100.0)
	r2 := math.Log(100.5 / 101.0)
	mean := (r1 + r2) / 2
	variance := ((r1-mean)*(r1-mean) + (r2-mean)*(r2-mean)) / 1.0
	meanDt := (1.0 + 2.0) / 2
	want := math.Sqrt(variance) / math.Sqrt(meanDt)

	sigma, ok := Volatility(points)
	require.True(t, ok)
	assert.InDelta(t, want, sigma, 1e-12)
}

func TestVolatilitySkipsInvalidMids(t *testing.T) {
	points := []PricePoint{
		{TsMs: 0, Mid: 100},
		{TsMs: 1000, Mid: 0}, // dropped, not fatal
		{TsMs: 2000, Mid: 101},
		{TsMs: 3000, Mid: 102},
	}
	sigma, ok := Volatility(points)
	require.True(t, ok)
	assert.True(t, sigma >= 0)
	assert.False(t, math.IsNaN(sigma))
}

func TestGarchRequiresEnoughReturns(t *testing.T) {
	_, ok := GarchForecast([]PricePoint{
		{TsMs: 0, Mid: 100},
		{TsMs: 1000, Mid: 100},
	})
	assert.False(t, ok)
}

func TestGarchForecastPositive(t *testing.T) {
	steps := []float64{0.0010, -0.0005, 0.0020, -0.0010, 0.0015, -0.0008, 0.0025, -0.0012, 0.0009, -0.0004, 0.0011}
	points := []PricePoint{{TsMs: 0, Mid: 100}}
	p := 100.0
	for i, r := range steps {
		p *= 1 + r
		points = append(points, PricePoint{TsMs: int64(i+1) * 1000, Mid: p})
	}

	sigma, ok := GarchForecast(points)
	require.True(t, ok)
	assert.Greater(t, sigma, 0.0)
	assert.False(t, math.IsNaN(sigma))
}

func TestFixedStepReturnsHandlesIrregularSpacing(t *testing.T) {
	points := []PricePoint{
		{TsMs: 0, Mid: 100},
		{TsMs: 1000, Mid: 101},
		{TsMs: 10000, Mid: 102},
	}
	rets := fixedStepReturns(points, 1000)
	require.GreaterOrEqual(t, len(rets), 2)
	var nonZero bool
	for _, r := range rets {
		if r != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero)
}
