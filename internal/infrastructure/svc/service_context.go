package svc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"arbwatch/internal/application/collector"
	"arbwatch/internal/application/detector"
	"arbwatch/internal/application/engine"
	"arbwatch/internal/application/feed"
	"arbwatch/internal/application/port"
	"arbwatch/internal/infrastructure/config"
	"arbwatch/internal/infrastructure/exchange"
	"arbwatch/internal/infrastructure/storage/composite"
	pgrepo "arbwatch/internal/infrastructure/storage/postgres"
	redisrepo "arbwatch/internal/infrastructure/storage/redis"
	sqliterepo "arbwatch/internal/infrastructure/storage/sqlite"

	// venue adapters register themselves in init()
	_ "arbwatch/internal/infrastructure/exchange/binance"
	_ "arbwatch/internal/infrastructure/exchange/bitget"
	_ "arbwatch/internal/infrastructure/exchange/bybit"
	_ "arbwatch/internal/infrastructure/exchange/okx"
)

// ServiceContext builds and owns the infrastructure the engine runs on.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config
	Logger zerolog.Logger

	adapters []engine.AdapterSpec
	repo     *composite.Repo

	// resources, closed in reverse order
	closerChain []func() error
}

// New is the single bootstrap entry point. On error, everything built so far is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Logger:      logger,
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	if err := sc.initializeAdapters(); err != nil {
		return err
	}
	log.Info().
		Int("adapters", len(sc.adapters)).
		Int("repositories", sc.repo.Len()).
		Msg("components initialized")
	return nil
}

func (sc *ServiceContext) initializeAdapters() error {
	httpClient := &http.Client{Timeout: sc.Config.RequestTimeout()}

	for _, name := range sc.Config.GetEnabledExchanges() {
		factory, ok := exchange.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s (registered: %v)", ErrUnknownExchange, name, exchange.Names())
		}
		exCfg := sc.Config.Exchanges[name]
		adapter, err := factory(exchange.Settings{
			Name:         name,
			Mode:         exCfg.Mode,
			RestURL:      exCfg.RestURL,
			WsURL:        exCfg.WsURL,
			Pairs:        sc.Config.PairsFor(name),
			RateLimitRPS: exCfg.RateLimitRPS,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return fmt.Errorf("build %s adapter: %w", name, err)
		}

		interval := sc.Config.PollInterval(name)
		sc.adapters = append(sc.adapters, engine.AdapterSpec{
			Adapter: adapter,
			Config: collector.AdapterConfig{
				Interval: interval,
				Timeout:  sc.Config.RequestTimeout(),
				Backoff: collector.Backoff{
					Base: sc.Config.BackoffBaseFor(name),
					Max:  sc.Config.BackoffMax(),
				},
				DisableAfterFailures: sc.Config.Collector.DisableAfterFailures,
			},
		})
		log.Info().
			Str("exchange", name).
			Str("mode", exCfg.Mode).
			Dur("interval", interval).
			Int("pairs", len(sc.Config.PairsFor(name))).
			Msg("adapter ready")
	}

	if len(sc.adapters) == 0 {
		return ErrNoAdapters
	}
	return nil
}

// initializeStorage opens every enabled backend. None enabled is valid: the
// composite repo is then empty and the recorder is skipped.
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.Repository

	if sc.Config.SQLite.Enabled {
		r, err := sc.initSQLite()
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		repos = append(repos, r)
	}
	if sc.Config.Postgres.Enabled {
		r, err := sc.initPostgres()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		repos = append(repos, r)
	}
	if sc.Config.Redis.Enabled {
		r, err := sc.initRedis()
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		repos = append(repos, r)
	}

	sc.repo = composite.New(repos...)
	return nil
}

func (sc *ServiceContext) initSQLite() (*sqliterepo.Repo, error) {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return nil, err
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", sc.Config.SQLite.Path).Msg("sqlite initialized")
	return repo, nil
}

func (sc *ServiceContext) initPostgres() (*pgrepo.Repo, error) {
	repo, err := pgrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})
	log.Info().Msg("postgres initialized")
	return repo, nil
}

func (sc *ServiceContext) initRedis() (*redisrepo.Repo, error) {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("redis initialized")

	return redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		time.Duration(sc.Config.Redis.TTLSeconds)*time.Second,
		sc.Config.Redis.SignalStream,
		sc.Config.Redis.SignalChannel,
	), nil
}

// Repository returns the fan-out repository, or nil when no backend is enabled.
func (sc *ServiceContext) Repository() port.Repository {
	if sc.repo == nil || sc.repo.Len() == 0 {
		return nil
	}
	return sc.repo
}

// BuildEngineDeps translates config into engine dependencies.
func (sc *ServiceContext) BuildEngineDeps() engine.Deps {
	cfg := sc.Config

	fees := make(map[string]decimal.Decimal, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		if ex.TakerFeePct > 0 {
			fees[name] = decimal.NewFromFloat(ex.TakerFeePct)
		}
	}

	return engine.Deps{
		Config: engine.Config{
			Detector: detector.Config{
				ScanInterval:   cfg.ScanInterval(),
				MaxQuoteAge:    cfg.MaxQuoteAge(),
				ThresholdPct:   decimal.NewFromFloat(cfg.Arbitrage.ThresholdPct),
				OpportunityTTL: cfg.OpportunityTTL(),
				TakerFeePct:    fees,
				SlippagePct:    decimal.NewFromFloat(cfg.Arbitrage.SlippagePct),
			},
			Feed: feed.Config{
				Capacity:      cfg.Feed.Capacity,
				SweepInterval: cfg.SweepInterval(),
			},
			SnapshotInterval: cfg.SnapshotInterval(),
		},
		Adapters: sc.adapters,
		Repo:     sc.Repository(),
		Logger:   sc.Logger,
	}
}

// Close releases resources in reverse order of creation.
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
