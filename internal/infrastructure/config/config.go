package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"arbwatch/internal/domain/model"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ModeAll       = "all"
	ModeCollector = "collector"

	ExchangeModeREST   = "rest"
	ExchangeModeStream = "stream"

	defaultThresholdPct = 0.5
	defaultBackoffMaxMs = 60_000
)

type Config struct {
	App struct {
		Mode      string `toml:"mode"`       // all | collector
		LogLevel  string `toml:"log_level"`  // debug | info | warn | error
		LogFormat string `toml:"log_format"` // console | json
		LogFile   string `toml:"log_file"`   // optional rotating file
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"` // BASE/QUOTE
	} `toml:"symbols"`

	Collector struct {
		PollIntervalMs       int `toml:"poll_interval_ms"`
		RequestTimeoutMs     int `toml:"request_timeout_ms"`
		BackoffBaseMs        int `toml:"backoff_base_ms"` // 0 = poll interval
		BackoffMaxMs         int `toml:"backoff_max_ms"`
		DisableAfterFailures int `toml:"disable_after_failures"` // 0 = never
	} `toml:"collector"`

	Arbitrage struct {
		ThresholdPct     float64 `toml:"threshold_pct"`
		SlippagePct      float64 `toml:"slippage_pct"`
		ScanIntervalMs   int     `toml:"scan_interval_ms"`
		MaxQuoteAgeMs    int     `toml:"max_quote_age_ms"`
		OpportunityTTLMs int     `toml:"opportunity_ttl_ms"`
		PrintToConsole   bool    `toml:"print_to_console"`
	} `toml:"arbitrage"`

	Feed struct {
		Capacity        int `toml:"capacity"`
		SweepIntervalMs int `toml:"sweep_interval_ms"`
	} `toml:"feed"`

	Exchanges map[string]ExchangeConfig `toml:"exchanges"`

	Storage struct {
		SnapshotIntervalMs int `toml:"snapshot_interval_ms"`
	} `toml:"storage"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		SignalStream  string `toml:"signal_stream"`
		SignalChannel string `toml:"signal_channel"`
	} `toml:"redis"`

	Server struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"server"`
}

type ExchangeConfig struct {
	Enabled        bool     `toml:"enabled"`
	Mode           string   `toml:"mode"` // rest | stream
	RestURL        string   `toml:"rest_url"`
	WsURL          string   `toml:"ws_url"`
	PollIntervalMs int      `toml:"poll_interval_ms"` // 0 = collector default
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	TakerFeePct    float64  `toml:"taker_fee_pct"`
	Symbols        []string `toml:"symbols"` // overrides symbols.list
}

// Load decodes path, loads .env when present, applies ARBWATCH_* overrides,
// then defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	// zero is a valid threshold, so only an absent key takes the default
	thresholdFromEnv := os.Getenv(envThresholdPct) != ""
	if !md.IsDefined("arbitrage", "threshold_pct") && !thresholdFromEnv {
		cfg.Arbitrage.ThresholdPct = defaultThresholdPct
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Mode == "" {
		cfg.App.Mode = ModeAll
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "console"
	}

	if cfg.Collector.PollIntervalMs <= 0 {
		cfg.Collector.PollIntervalMs = 1000
	}
	if cfg.Collector.RequestTimeoutMs <= 0 {
		cfg.Collector.RequestTimeoutMs = 5000
	}

	if cfg.Arbitrage.ScanIntervalMs <= 0 {
		cfg.Arbitrage.ScanIntervalMs = 1000
	}
	if cfg.Arbitrage.MaxQuoteAgeMs <= 0 {
		cfg.Arbitrage.MaxQuoteAgeMs = 5000
	}
	if cfg.Arbitrage.OpportunityTTLMs <= 0 {
		cfg.Arbitrage.OpportunityTTLMs = 30_000
	}

	if cfg.Feed.Capacity <= 0 {
		cfg.Feed.Capacity = 1000
	}
	if cfg.Feed.SweepIntervalMs <= 0 {
		cfg.Feed.SweepIntervalMs = 1000
	}

	if cfg.Storage.SnapshotIntervalMs <= 0 {
		cfg.Storage.SnapshotIntervalMs = 5000
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/arbwatch.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "arbwatch"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	normalized := make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		if ex.Mode == "" {
			ex.Mode = ExchangeModeREST
		}
		normalized[strings.ToLower(strings.TrimSpace(name))] = ex
	}
	cfg.Exchanges = normalized

	if cfg.Collector.BackoffMaxMs <= 0 {
		cfg.Collector.BackoffMaxMs = max(defaultBackoffMaxMs, 8*cfg.largestBackoffBaseMs())
	}
}

// largestBackoffBaseMs is the biggest first-retry delay across enabled exchanges.
func (c *Config) largestBackoffBaseMs() int {
	n := 0
	for _, name := range c.GetEnabledExchanges() {
		n = max(n, int(c.BackoffBaseFor(name)/time.Millisecond))
	}
	return n
}

func validate(cfg *Config) error {
	switch cfg.App.Mode {
	case ModeAll, ModeCollector:
	default:
		return fmt.Errorf("app.mode %q: want %s or %s", cfg.App.Mode, ModeAll, ModeCollector)
	}

	cfg.Symbols.List = normalizePairs(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	enabled := cfg.GetEnabledExchanges()
	if len(enabled) == 0 {
		return errors.New("no exchanges enabled")
	}
	for _, name := range enabled {
		ex := cfg.Exchanges[name]
		switch ex.Mode {
		case ExchangeModeREST, ExchangeModeStream:
		default:
			return fmt.Errorf("exchanges.%s.mode %q: want rest or stream", name, ex.Mode)
		}
		if ex.TakerFeePct < 0 {
			return fmt.Errorf("exchanges.%s.taker_fee_pct is negative", name)
		}
		if base := cfg.BackoffBaseFor(name); cfg.BackoffMax() < 2*base {
			return fmt.Errorf("collector.backoff_max_ms %d leaves no room to back off from %s for %s (need >= %d)",
				cfg.Collector.BackoffMaxMs, base, name, 2*base.Milliseconds())
		}
		ex.Symbols = normalizePairs(ex.Symbols)
		cfg.Exchanges[name] = ex
	}

	if cfg.Arbitrage.ThresholdPct < 0 {
		return errors.New("arbitrage.threshold_pct is negative")
	}

	if cfg.Arbitrage.SlippagePct < 0 {
		return errors.New("arbitrage.slippage_pct is negative")
	}
	if cfg.Collector.DisableAfterFailures < 0 {
		return errors.New("collector.disable_after_failures is negative")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but postgres enabled")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but redis enabled")
	}
	return nil
}

// normalizePairs upper-cases, converts separators to "/", drops blanks and duplicates.
func normalizePairs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		p := model.NormalizePair(s)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// GetEnabledExchanges returns enabled exchange names, sorted.
func (c *Config) GetEnabledExchanges() []string {
	var out []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PairsFor returns the exchange's own symbol list, or symbols.list when unset.
func (c *Config) PairsFor(exchange string) []string {
	if ex, ok := c.Exchanges[exchange]; ok && len(ex.Symbols) > 0 {
		return ex.Symbols
	}
	return c.Symbols.List
}

// PollInterval returns the exchange override or the collector default.
func (c *Config) PollInterval(exchange string) time.Duration {
	if ex, ok := c.Exchanges[exchange]; ok && ex.PollIntervalMs > 0 {
		return ms(ex.PollIntervalMs)
	}
	return ms(c.Collector.PollIntervalMs)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) RequestTimeout() time.Duration   { return ms(c.Collector.RequestTimeoutMs) }
func (c *Config) BackoffBase() time.Duration      { return ms(c.Collector.BackoffBaseMs) }
func (c *Config) BackoffMax() time.Duration       { return ms(c.Collector.BackoffMaxMs) }
func (c *Config) ScanInterval() time.Duration     { return ms(c.Arbitrage.ScanIntervalMs) }
func (c *Config) MaxQuoteAge() time.Duration      { return ms(c.Arbitrage.MaxQuoteAgeMs) }
func (c *Config) OpportunityTTL() time.Duration   { return ms(c.Arbitrage.OpportunityTTLMs) }
func (c *Config) SweepInterval() time.Duration    { return ms(c.Feed.SweepIntervalMs) }
func (c *Config) SnapshotInterval() time.Duration { return ms(c.Storage.SnapshotIntervalMs) }

// BackoffBaseFor is the first retry delay for an exchange: backoff_base_ms,
// but never shorter than its poll interval.
func (c *Config) BackoffBaseFor(exchange string) time.Duration {
	return max(c.BackoffBase(), c.PollInterval(exchange))
}
