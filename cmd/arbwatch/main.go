package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/application/engine"
	"arbwatch/internal/infrastructure/config"
	"arbwatch/internal/infrastructure/logger"
	"arbwatch/internal/infrastructure/svc"
	"arbwatch/internal/interfaces/console"
	"arbwatch/internal/interfaces/httpapi"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	addr := flag.String("addr", "", "http listen address, overrides server.addr and enables the server")
	debug := flag.Bool("debug", false, "debug logging")
	mode := flag.String("mode", "", "all | collector, overrides app.mode")
	flag.Parse()

	// console logger until the config is known
	if _, _, err := logger.Setup(logger.Options{}); err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	if *mode != "" {
		cfg.App.Mode = *mode
	}
	if cfg.App.Mode != config.ModeAll && cfg.App.Mode != config.ModeCollector {
		log.Fatal().Str("mode", cfg.App.Mode).Msg("mode must be all or collector")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
		cfg.Server.Enabled = true
	}
	if *debug {
		cfg.App.LogLevel = "debug"
	}

	lg, logCloser, err := logger.Setup(logger.Options{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		File:   cfg.App.LogFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}

	if err := run(cfg, *configPath, lg); err != nil {
		log.Error().Err(err).Msg("arbwatch exited with error")
		_ = logCloser.Close()
		os.Exit(1)
	}
	_ = logCloser.Close()
}

// run owns every deferred cleanup so main can exit non-zero after it finishes.
func run(cfg *config.Config, configPath string, lg zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer sc.Close()

	eng, err := engine.New(sc.BuildEngineDeps())
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	log.Info().
		Str("config", configPath).
		Str("mode", cfg.App.Mode).
		Strs("exchanges", cfg.GetEnabledExchanges()).
		Strs("symbols", cfg.Symbols.List).
		Float64("threshold_pct", cfg.Arbitrage.ThresholdPct).
		Msg("arbwatch started")

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(eng.Wait)

	if cfg.Arbitrage.PrintToConsole {
		printer := console.NewPrinter(
			os.Stdout,
			eng.Feed(),
			console.NewFormatter(decimal.NewFromFloat(cfg.Arbitrage.ThresholdPct), true),
			lg,
		)
		g.Go(func() error { return printer.Run(gctx) })
	}

	if cfg.App.Mode == config.ModeAll && cfg.Server.Enabled {
		var history httpapi.History
		if repo := sc.Repository(); repo != nil {
			history = repo
		}
		server := httpapi.New(cfg.Server.Addr, eng, history, lg)
		g.Go(func() error { return server.Run(gctx) })
	}

	// stop the engine when a signal arrives or a sibling fails
	g.Go(func() error {
		<-gctx.Done()
		return eng.Stop()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("arbwatch stopped")
	return nil
}
