package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Model.RiskAversionGamma = -1
	cfg.Backtest.QuoteValiditySeconds = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "risk_aversion_gamma")
	assert.Contains(t, err.Error(), "quote_validity_seconds")
}

func TestValidatePostgresSourceNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Data.Source = "postgres"
	cfg.Postgres.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.enabled")
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Backtest.ArchiveResults = true
	cfg.S3.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive_results")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "grid"
log_level = "debug"

[data]
markets = ["ETHUSDT", "BTCUSDT"]
data_directory = "/var/lib/mmlab"

[model]
risk_aversion_gamma = 0.25
gamma_mode = "max_shift"

[backtest]
initial_cash = "50000"
maker_fee_bps = 0.5

[collector]
flush_interval = "30s"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "grid", cfg.Mode)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.Data.Markets)
	assert.Equal(t, 0.25, cfg.Model.RiskAversionGamma)
	assert.Equal(t, "max_shift", cfg.Model.GammaMode)
	assert.Equal(t, "50000", cfg.Backtest.InitialCash)
	assert.Equal(t, 0.5, cfg.Backtest.MakerFeeBps)
	// Untouched fields keep their defaults.
	assert.Equal(t, int64(3600), cfg.Model.CalibrationWindowSeconds)
	assert.Equal(t, "30s", cfg.Collector.FlushInterval.String())
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"backtest\"\n"), 0o644))

	t.Setenv("MMLAB_MODE", "collect")
	t.Setenv("MMLAB_DATA_MARKETS", "SOLUSDT, DOGEUSDT")
	t.Setenv("MMLAB_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("MMLAB_BACKTEST_TICK_SIZE", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "collect", cfg.Mode)
	assert.Equal(t, []string{"SOLUSDT", "DOGEUSDT"}, cfg.Data.Markets)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, "0.5", cfg.Backtest.TickSize)
}
