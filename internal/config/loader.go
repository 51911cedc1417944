package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MMLAB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MMLAB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject credentials at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Data ──
	setStringSlice(&cfg.Data.Markets, "MMLAB_DATA_MARKETS")
	setStr(&cfg.Data.DataDirectory, "MMLAB_DATA_DIRECTORY")
	setStr(&cfg.Data.Source, "MMLAB_DATA_SOURCE")
	setInt(&cfg.Data.MaxDepthLevels, "MMLAB_DATA_MAX_DEPTH_LEVELS")

	// ── Model ──
	setFloat64(&cfg.Model.RiskAversionGamma, "MMLAB_MODEL_RISK_AVERSION_GAMMA")
	setStr(&cfg.Model.GammaMode, "MMLAB_MODEL_GAMMA_MODE")
	setFloat64(&cfg.Model.GammaMin, "MMLAB_MODEL_GAMMA_MIN")
	setFloat64(&cfg.Model.GammaMax, "MMLAB_MODEL_GAMMA_MAX")
	setFloat64(&cfg.Model.MaxShiftTicks, "MMLAB_MODEL_MAX_SHIFT_TICKS")
	setInt64(&cfg.Model.InventoryHorizonSeconds, "MMLAB_MODEL_INVENTORY_HORIZON_SECONDS")
	setInt64(&cfg.Model.CalibrationWindowSeconds, "MMLAB_MODEL_CALIBRATION_WINDOW_SECONDS")
	setInt64(&cfg.Model.RecalibrationIntervalSeconds, "MMLAB_MODEL_RECALIBRATION_INTERVAL_SECONDS")
	setFloat64(&cfg.Model.MinVolatility, "MMLAB_MODEL_MIN_VOLATILITY")
	setFloat64(&cfg.Model.MaxVolatility, "MMLAB_MODEL_MAX_VOLATILITY")
	setBool(&cfg.Model.UseGarch, "MMLAB_MODEL_USE_GARCH")

	// ── Backtest ──
	setStr(&cfg.Backtest.InitialCash, "MMLAB_BACKTEST_INITIAL_CASH")
	setStr(&cfg.Backtest.UnitSize, "MMLAB_BACKTEST_UNIT_SIZE")
	setStr(&cfg.Backtest.InventoryMax, "MMLAB_BACKTEST_INVENTORY_MAX")
	setStr(&cfg.Backtest.TickSize, "MMLAB_BACKTEST_TICK_SIZE")
	setFloat64(&cfg.Backtest.MakerFeeBps, "MMLAB_BACKTEST_MAKER_FEE_BPS")
	setFloat64(&cfg.Backtest.TakerFeeBps, "MMLAB_BACKTEST_TAKER_FEE_BPS")
	setInt64(&cfg.Backtest.FillCooldownSeconds, "MMLAB_BACKTEST_FILL_COOLDOWN_SECONDS")
	setInt64(&cfg.Backtest.QuoteValiditySeconds, "MMLAB_BACKTEST_QUOTE_VALIDITY_SECONDS")
	setInt64(&cfg.Backtest.GapThresholdSeconds, "MMLAB_BACKTEST_GAP_THRESHOLD_SECONDS")
	setInt64(&cfg.Backtest.WarmupPeriodSeconds, "MMLAB_BACKTEST_WARMUP_PERIOD_SECONDS")
	setFloat64(&cfg.Backtest.MinSpreadBps, "MMLAB_BACKTEST_MIN_SPREAD_BPS")
	setFloat64(&cfg.Backtest.MaxSpreadBps, "MMLAB_BACKTEST_MAX_SPREAD_BPS")
	setStr(&cfg.Backtest.OutputCSV, "MMLAB_BACKTEST_OUTPUT_CSV")
	setBool(&cfg.Backtest.ArchiveResults, "MMLAB_BACKTEST_ARCHIVE_RESULTS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MMLAB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MMLAB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MMLAB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MMLAB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MMLAB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MMLAB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MMLAB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MMLAB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MMLAB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MMLAB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MMLAB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MMLAB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MMLAB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MMLAB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MMLAB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MMLAB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MMLAB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MMLAB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MMLAB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MMLAB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MMLAB_S3_REGION")
	setStr(&cfg.S3.Bucket, "MMLAB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MMLAB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MMLAB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MMLAB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MMLAB_S3_FORCE_PATH_STYLE")

	// ── Collector ──
	setStr(&cfg.Collector.WSURL, "MMLAB_COLLECTOR_WS_URL")
	setInt(&cfg.Collector.DepthLevels, "MMLAB_COLLECTOR_DEPTH_LEVELS")
	setDuration(&cfg.Collector.FlushInterval, "MMLAB_COLLECTOR_FLUSH_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MMLAB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MMLAB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MMLAB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MMLAB_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MMLAB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MMLAB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MMLAB_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MMLAB_MODE")
	setStr(&cfg.LogLevel, "MMLAB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
