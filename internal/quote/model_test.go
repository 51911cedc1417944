package quote

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

func testConfig() Config {
	return Config{
		Gamma:          0.1,
		Mode:           GammaConstant,
		HorizonSeconds: 60,
		TickSize:       decimal.RequireFromString("0.01"),
		MinSpreadBps:   2,
		MaxSpreadBps:   100,
		MakerFeeBps:    1,
		MaxShiftTicks:  100,
		MinVolatility:  0,
		MaxVolatility:  0.02,
		InventoryMax:   10,
	}
}

func fitParams(sigma, kappa float64) domain.CalibratedParams {
	return domain.CalibratedParams{
		Sigma:     sigma,
		ABid:      1.5,
		KappaBid:  kappa,
		AAsk:      1.5,
		KappaAsk:  kappa,
		LastFitTs: 1,
		Fit:       true,
	}
}

func TestComputeBasicInvariants(t *testing.T) {
	m := New(testConfig(), slog.Default())
	mid := decimal.NewFromInt(100)

	q := m.Compute(0, mid, decimal.Zero, fitParams(0.01, 100), 60_000)

	require.True(t, q.Bid.LessThan(q.Ask))
	assert.False(t, q.Provisional)

	tick := decimal.RequireFromString("0.01")
	assert.True(t, q.Bid.Mod(tick).IsZero(), "bid on tick: %s", q.Bid)
	assert.True(t, q.Ask.Mod(tick).IsZero(), "ask on tick: %s", q.Ask)

	spreadBps := q.Ask.Sub(q.Bid).Div(mid).Mul(decimal.NewFromInt(10_000))
	assert.True(t, spreadBps.GreaterThanOrEqual(decimal.NewFromInt(2)), "spread %s bps", spreadBps)
}

func TestComputeSymmetricAtZeroInventory(t *testing.T) {
	// With q=0 and equal kappas the spread must sit symmetrically around mid
	// (up to one tick of rounding).
	m := New(testConfig(), slog.Default())
	mid := decimal.NewFromInt(100)

	q := m.Compute(0, mid, decimal.Zero, fitParams(0.01, 50), 60_000)

	assert.True(t, q.Reservation.Sub(mid).Abs().LessThan(decimal.RequireFromString("0.000001")))
	bidDist := mid.Sub(q.Bid)
	askDist := q.Ask.Sub(mid)
	assert.True(t, bidDist.Sub(askDist).Abs().LessThanOrEqual(decimal.RequireFromString("0.01")),
		"bid dist %s vs ask dist %s", bidDist, askDist)
}

func TestComputeInventorySkew(t *testing.T) {
	m := New(testConfig(), slog.Default())
	mid := decimal.NewFromInt(100)

	long := m.Compute(0, mid, decimal.NewFromInt(5), fitParams(0.01, 100), 60_000)
	short := m.Compute(0, mid, decimal.NewFromInt(-5), fitParams(0.01, 100), 60_000)

	// Long inventory pushes the reservation below mid, short above.
	assert.True(t, long.Reservation.LessThan(mid))
	assert.True(t, short.Reservation.GreaterThan(mid))
	assert.True(t, long.Ask.LessThanOrEqual(short.Ask))
}

func TestComputeAsymmetricKappaTightensFastSide(t *testing.T) {
	m := New(testConfig(), slog.Default())
	mid := decimal.NewFromInt(100)
	params := fitParams(0.01, 5)
	params.KappaAsk = 20

	q := m.Compute(0, mid, decimal.Zero, params, 60_000)

	// Higher kappa decays intensity faster with distance, so the optimal ask
	// sits closer to the reservation price than the bid.
	assert.True(t, q.AskHalf.LessThan(q.BidHalf),
		"ask half %s should be tighter than bid half %s", q.AskHalf, q.BidHalf)
}

func TestComputeUnfitParamsProvisional(t *testing.T) {
	m := New(testConfig(), slog.Default())
	mid := decimal.NewFromInt(100)

	q := m.Compute(0, mid, decimal.Zero, domain.CalibratedParams{}, 60_000)

	assert.True(t, q.Provisional)
	assert.True(t, q.Bid.LessThan(q.Ask))
	assert.True(t, q.Bid.GreaterThan(decimal.Zero))
}

func TestComputeSpreadFloorCoversFees(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpreadBps = 1
	cfg.MakerFeeBps = 5 // floor becomes 10 bps
	m := New(cfg, slog.Default())
	mid := decimal.NewFromInt(100)

	q := m.Compute(0, mid, decimal.Zero, fitParams(0.0001, 1000), 60_000)

	spread := q.Ask.Sub(q.Bid)
	assert.True(t, spread.GreaterThanOrEqual(decimal.RequireFromString("0.10")),
		"spread %s must cover 2x maker fee", spread)
}

func TestComputeSpreadCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSpreadBps = 20
	m := New(cfg, slog.Default())
	mid := decimal.NewFromInt(100)

	// Huge sigma before clamping; the ceiling plus tick rounding bounds it.
	q := m.Compute(0, mid, decimal.Zero, fitParams(10, 0.5), 60_000)

	spread := q.Ask.Sub(q.Bid)
	assert.True(t, spread.LessThanOrEqual(decimal.RequireFromString("0.22")),
		"spread %s exceeds ceiling", spread)
}

func TestGammaModeInventoryScaled(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = GammaInventoryScaled
	m := New(cfg, slog.Default())
	mid := decimal.NewFromInt(100)

	neutral := m.Compute(0, mid, decimal.Zero, fitParams(0.01, 100), 60_000)
	loaded := m.Compute(0, mid, decimal.NewFromInt(10), fitParams(0.01, 100), 60_000)

	// At neutral inventory gamma collapses to zero and the reservation
	// stays at mid; at the limit the skew is maximal.
	assert.True(t, neutral.Reservation.Sub(mid).Abs().LessThan(decimal.RequireFromString("0.000001")))
	assert.True(t, loaded.Reservation.LessThan(mid))
}

func TestGammaModeMaxShift(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = GammaMaxShift
	m := New(cfg, slog.Default())
	mid := decimal.NewFromInt(100)

	// gamma_eff * sigma^2 * T * q_max == max_shift_ticks * tick, so quoting
	// at the inventory limit shifts the reservation by exactly that much.
	params := fitParams(0.01, 100)
	q := m.Compute(0, mid, decimal.NewFromFloat(cfg.InventoryMax), params, 60_000)

	wantShift := decimal.RequireFromString("1.00") // 100 ticks * 0.01
	gotShift := mid.Sub(q.Reservation)
	assert.True(t, gotShift.Sub(wantShift).Abs().LessThan(decimal.RequireFromString("0.000001")),
		"reservation shift %s, want %s", gotShift, wantShift)
}

func TestRoundTickDirections(t *testing.T) {
	tick := decimal.RequireFromString("0.5")
	assert.Equal(t, "100", roundDownToTick(decimal.RequireFromString("100.3"), tick).String())
	assert.Equal(t, "100.5", roundUpToTick(decimal.RequireFromString("100.3"), tick).String())
	assert.Equal(t, "100.5", roundDownToTick(decimal.RequireFromString("100.5"), tick).String())
	assert.Equal(t, "100.5", roundUpToTick(decimal.RequireFromString("100.5"), tick).String())
}
