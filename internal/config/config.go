// Package config defines the top-level configuration for the market-making
// research platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MMLAB_* environment variables.
type Config struct {
	Data      DataConfig      `toml:"data"`
	Model     ModelConfig     `toml:"model"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Grid      GridConfig      `toml:"grid"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Collector CollectorConfig `toml:"collector"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DataConfig selects the historical data source.
type DataConfig struct {
	Markets        []string `toml:"markets"`
	DataDirectory  string   `toml:"data_directory"`
	Source         string   `toml:"source"` // "csv" or "postgres"
	MaxDepthLevels int      `toml:"max_depth_levels"`
}

// ModelConfig holds the calibration and quoting parameters.
type ModelConfig struct {
	RiskAversionGamma            float64 `toml:"risk_aversion_gamma"`
	GammaMode                    string  `toml:"gamma_mode"` // constant, inventory_scaled, max_shift
	GammaMin                     float64 `toml:"gamma_min"`
	GammaMax                     float64 `toml:"gamma_max"`
	MaxShiftTicks                float64 `toml:"max_shift_ticks"`
	InventoryHorizonSeconds      int64   `toml:"inventory_horizon_seconds"`
	CalibrationWindowSeconds     int64   `toml:"calibration_window_seconds"`
	RecalibrationIntervalSeconds int64   `toml:"recalibration_interval_seconds"`
	MinVolatility                float64 `toml:"min_volatility"`
	MaxVolatility                float64 `toml:"max_volatility"`
	UseGarch                     bool    `toml:"use_garch"`
	EffectiveVolumeThreshold     string  `toml:"effective_volume_threshold"`
}

// BacktestConfig holds the trading-simulation parameters. Monetary values are
// decimal strings so they survive exactly.
type BacktestConfig struct {
	InitialCash          string  `toml:"initial_cash"`
	UnitSize             string  `toml:"unit_size"`
	InventoryMax         string  `toml:"inventory_max"`
	TickSize             string  `toml:"tick_size"`
	MakerFeeBps          float64 `toml:"maker_fee_bps"`
	TakerFeeBps          float64 `toml:"taker_fee_bps"`
	FillCooldownSeconds  int64   `toml:"fill_cooldown_seconds"`
	QuoteValiditySeconds int64   `toml:"quote_validity_seconds"`
	GapThresholdSeconds  int64   `toml:"gap_threshold_seconds"`
	WarmupPeriodSeconds  int64   `toml:"warmup_period_seconds"`
	MinSpreadBps         float64 `toml:"min_spread_bps"`
	MaxSpreadBps         float64 `toml:"max_spread_bps"`
	OutputCSV            string  `toml:"output_csv"`
	ReportUnrealizedFee  bool    `toml:"report_unrealized_fee"`
	ArchiveResults       bool    `toml:"archive_results"`
}

// GridConfig holds the grid-search sweep.
type GridConfig struct {
	Gammas   []float64 `toml:"gammas"`
	Horizons []int64   `toml:"horizons"`
	Workers  int       `toml:"workers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CollectorConfig holds websocket data-collection parameters.
type CollectorConfig struct {
	WSURL         string   `toml:"ws_url"`
	DepthLevels   int      `toml:"depth_levels"`
	FlushInterval duration `toml:"flush_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Data: DataConfig{
			Markets:        []string{"BTCUSDT"},
			DataDirectory:  "./data",
			Source:         "csv",
			MaxDepthLevels: 20,
		},
		Model: ModelConfig{
			RiskAversionGamma:            0.5,
			GammaMode:                    "inventory_scaled",
			GammaMin:                     0.1,
			GammaMax:                     5.0,
			MaxShiftTicks:                100,
			InventoryHorizonSeconds:      60,
			CalibrationWindowSeconds:     3600,
			RecalibrationIntervalSeconds: 60,
			MinVolatility:                0,
			MaxVolatility:                0.02,
			UseGarch:                     false,
			EffectiveVolumeThreshold:     "1000",
		},
		Backtest: BacktestConfig{
			InitialCash:          "10000",
			UnitSize:             "1",
			InventoryMax:         "10",
			TickSize:             "0.01",
			MakerFeeBps:          1,
			TakerFeeBps:          4.5,
			FillCooldownSeconds:  0,
			QuoteValiditySeconds: 60,
			GapThresholdSeconds:  1800,
			WarmupPeriodSeconds:  900,
			MinSpreadBps:         2,
			MaxSpreadBps:         100,
		},
		Grid: GridConfig{
			Gammas:   []float64{0.1, 0.5, 1.0},
			Horizons: []int64{60, 300, 3600},
			Workers:  4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mmlab",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mmlab-results",
			ForcePathStyle: true,
		},
		Collector: CollectorConfig{
			WSURL:         "wss://fstream.binance.com/stream",
			DepthLevels:   20,
			FlushInterval: duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"run_finished", "run_failed", "collector_error"},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"grid":     true,
	"collect":  true,
	"serve":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validGammaModes enumerates the accepted values for Model.GammaMode.
var validGammaModes = map[string]bool{
	"constant":         true,
	"inventory_scaled": true,
	"max_shift":        true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, grid, collect, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Data
	if len(c.Data.Markets) == 0 {
		errs = append(errs, "data: markets must not be empty")
	}
	switch c.Data.Source {
	case "csv":
		if c.Data.DataDirectory == "" {
			errs = append(errs, "data: data_directory must be set for source csv")
		}
	case "postgres":
		if !c.Postgres.Enabled {
			errs = append(errs, "data: source postgres requires postgres.enabled = true")
		}
	default:
		errs = append(errs, fmt.Sprintf("data: unknown source %q (valid: csv, postgres)", c.Data.Source))
	}
	if c.Data.MaxDepthLevels < 0 {
		errs = append(errs, "data: max_depth_levels must be >= 0")
	}

	// Model
	if c.Model.RiskAversionGamma <= 0 {
		errs = append(errs, "model: risk_aversion_gamma must be > 0")
	}
	if !validGammaModes[c.Model.GammaMode] {
		errs = append(errs, fmt.Sprintf("model: unknown gamma_mode %q (valid: constant, inventory_scaled, max_shift)", c.Model.GammaMode))
	}
	if c.Model.InventoryHorizonSeconds <= 0 {
		errs = append(errs, "model: inventory_horizon_seconds must be > 0")
	}
	if c.Model.CalibrationWindowSeconds <= 0 {
		errs = append(errs, "model: calibration_window_seconds must be > 0")
	}
	if c.Model.RecalibrationIntervalSeconds <= 0 {
		errs = append(errs, "model: recalibration_interval_seconds must be > 0")
	}
	if c.Model.MaxVolatility < c.Model.MinVolatility {
		errs = append(errs, "model: max_volatility must be >= min_volatility")
	}

	// Backtest — decimal strings must be present; they are parsed when the
	// app builds the engine config.
	for _, f := range []struct{ name, value string }{
		{"initial_cash", c.Backtest.InitialCash},
		{"unit_size", c.Backtest.UnitSize},
		{"inventory_max", c.Backtest.InventoryMax},
		{"tick_size", c.Backtest.TickSize},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Sprintf("backtest: %s must not be empty", f.name))
		}
	}
	if c.Backtest.MakerFeeBps < 0 || c.Backtest.TakerFeeBps < 0 {
		errs = append(errs, "backtest: fees must be >= 0")
	}
	if c.Backtest.QuoteValiditySeconds <= 0 {
		errs = append(errs, "backtest: quote_validity_seconds must be > 0")
	}
	if c.Backtest.GapThresholdSeconds <= 0 {
		errs = append(errs, "backtest: gap_threshold_seconds must be > 0")
	}
	if c.Backtest.WarmupPeriodSeconds < 0 {
		errs = append(errs, "backtest: warmup_period_seconds must be >= 0")
	}
	if c.Backtest.MinSpreadBps < 0 {
		errs = append(errs, "backtest: min_spread_bps must be >= 0")
	}
	if c.Backtest.MaxSpreadBps > 0 && c.Backtest.MaxSpreadBps < c.Backtest.MinSpreadBps {
		errs = append(errs, "backtest: max_spread_bps must be >= min_spread_bps")
	}
	if c.Backtest.ArchiveResults && !c.S3.Enabled {
		errs = append(errs, "backtest: archive_results requires s3.enabled = true")
	}

	// Grid
	if c.Mode == "grid" {
		if len(c.Grid.Gammas) == 0 || len(c.Grid.Horizons) == 0 {
			errs = append(errs, "grid: gammas and horizons must not be empty in grid mode")
		}
		if c.Grid.Workers < 1 {
			errs = append(errs, "grid: workers must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Collector
	if c.Mode == "collect" {
		if c.Collector.WSURL == "" {
			errs = append(errs, "collector: ws_url must not be empty in collect mode")
		}
		if c.Data.DataDirectory == "" {
			errs = append(errs, "collector: data.data_directory must be set in collect mode")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
