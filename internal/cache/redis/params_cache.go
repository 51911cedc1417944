package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// ParamsCache implements domain.ParamsCache using Redis hashes. Each market's
// latest calibrated parameters are stored at "mm:params:{market}" so external
// consumers (the status API, dashboards) can read them without touching the
// engine.
type ParamsCache struct {
	rdb *redis.Client
}

// NewParamsCache creates a ParamsCache backed by the given Client.
func NewParamsCache(c *Client) *ParamsCache {
	return &ParamsCache{rdb: c.Underlying()}
}

func paramsKey(market string) string {
	return "mm:params:" + market
}

// SetParams stores the latest calibrated parameters for a market.
func (pc *ParamsCache) SetParams(ctx context.Context, market string, p domain.CalibratedParams) error {
	fields := map[string]interface{}{
		"sigma":       strconv.FormatFloat(p.Sigma, 'g', -1, 64),
		"a_bid":       strconv.FormatFloat(p.ABid, 'g', -1, 64),
		"kappa_bid":   strconv.FormatFloat(p.KappaBid, 'g', -1, 64),
		"a_ask":       strconv.FormatFloat(p.AAsk, 'g', -1, 64),
		"kappa_ask":   strconv.FormatFloat(p.KappaAsk, 'g', -1, 64),
		"last_fit_ts": strconv.FormatInt(p.LastFitTs, 10),
		"fit":         strconv.FormatBool(p.Fit),
	}
	if err := pc.rdb.HSet(ctx, paramsKey(market), fields).Err(); err != nil {
		return fmt.Errorf("redis: set params %s: %w", market, err)
	}
	return nil
}

// GetParams retrieves the latest calibrated parameters for a market. It
// returns domain.ErrNotFound when nothing has been published yet.
func (pc *ParamsCache) GetParams(ctx context.Context, market string) (domain.CalibratedParams, error) {
	vals, err := pc.rdb.HGetAll(ctx, paramsKey(market)).Result()
	if err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: get params %s: %w", market, err)
	}
	if len(vals) == 0 {
		return domain.CalibratedParams{}, domain.ErrNotFound
	}

	var p domain.CalibratedParams
	if p.Sigma, err = parseField(vals, "sigma"); err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: %w", market, err)
	}
	if p.ABid, err = parseField(vals, "a_bid"); err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: %w", market, err)
	}
	if p.KappaBid, err = parseField(vals, "kappa_bid"); err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: %w", market, err)
	}
	if p.AAsk, err = parseField(vals, "a_ask"); err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: %w", market, err)
	}
	if p.KappaAsk, err = parseField(vals, "kappa_ask"); err != nil {
		return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: %w", market, err)
	}
	if ts, ok := vals["last_fit_ts"]; ok {
		if p.LastFitTs, err = strconv.ParseInt(ts, 10, 64); err != nil {
			return domain.CalibratedParams{}, fmt.Errorf("redis: params %s: parse last_fit_ts: %w", market, err)
		}
	}
	if fit, ok := vals["fit"]; ok {
		p.Fit, _ = strconv.ParseBool(fit)
	}
	return p, nil
}

func parseField(vals map[string]string, name string) (float64, error) {
	raw, ok := vals[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.ParamsCache = (*ParamsCache)(nil)
