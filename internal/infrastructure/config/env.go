package config

import (
	"os"
	"strconv"
	"strings"
)

const envThresholdPct = "ARBWATCH_THRESHOLD_PCT"

// applyEnvOverrides lets operators override the TOML file through ARBWATCH_* variables.
// Per-exchange keys use the upper-cased exchange name, e.g. ARBWATCH_EXCHANGES_OKX_ENABLED.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.App.Mode, "ARBWATCH_MODE")
	setStr(&cfg.App.LogLevel, "ARBWATCH_LOG_LEVEL")
	setStr(&cfg.App.LogFormat, "ARBWATCH_LOG_FORMAT")
	setStr(&cfg.App.LogFile, "ARBWATCH_LOG_FILE")

	setStringSlice(&cfg.Symbols.List, "ARBWATCH_SYMBOLS")

	setInt(&cfg.Collector.PollIntervalMs, "ARBWATCH_POLL_INTERVAL_MS")
	setInt(&cfg.Collector.DisableAfterFailures, "ARBWATCH_DISABLE_AFTER_FAILURES")

	setFloat64(&cfg.Arbitrage.ThresholdPct, envThresholdPct)
	setInt(&cfg.Arbitrage.ScanIntervalMs, "ARBWATCH_SCAN_INTERVAL_MS")
	setInt(&cfg.Arbitrage.MaxQuoteAgeMs, "ARBWATCH_MAX_QUOTE_AGE_MS")

	setBool(&cfg.SQLite.Enabled, "ARBWATCH_SQLITE_ENABLED")
	setStr(&cfg.SQLite.Path, "ARBWATCH_SQLITE_PATH")

	setBool(&cfg.Postgres.Enabled, "ARBWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBWATCH_POSTGRES_DSN")

	setBool(&cfg.Redis.Enabled, "ARBWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBWATCH_REDIS_DB")

	setBool(&cfg.Server.Enabled, "ARBWATCH_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "ARBWATCH_SERVER_ADDR")

	for name, ex := range cfg.Exchanges {
		key := "ARBWATCH_EXCHANGES_" + strings.ToUpper(name) + "_"
		setBool(&ex.Enabled, key+"ENABLED")
		setStr(&ex.Mode, key+"MODE")
		setStr(&ex.RestURL, key+"REST_URL")
		setStr(&ex.WsURL, key+"WS_URL")
		setFloat64(&ex.TakerFeePct, key+"TAKER_FEE_PCT")
		cfg.Exchanges[name] = ex
	}
}

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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
