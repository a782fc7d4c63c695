// Package engine owns the price pipeline: collector, store, detector, feed and recorder.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"arbwatch/internal/application/collector"
	"arbwatch/internal/application/detector"
	"arbwatch/internal/application/feed"
	"arbwatch/internal/application/port"
	"arbwatch/internal/application/pricestore"
	"arbwatch/internal/application/recorder"
	"arbwatch/internal/domain/model"
	dsvc "arbwatch/internal/domain/service"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyStarted = errors.New("engine already started")

type Config struct {
	Detector         detector.Config
	Feed             feed.Config
	SnapshotInterval time.Duration // recorder cadence
}

// AdapterSpec pairs an adapter with its scheduling config.
type AdapterSpec struct {
	Adapter port.PriceAdapter
	Config  collector.AdapterConfig
}

type Deps struct {
	Config   Config
	Adapters []AdapterSpec
	Repo     port.Repository // optional
	Logger   zerolog.Logger
}

type Engine struct {
	cfg    Config
	logger zerolog.Logger

	store     *pricestore.Store
	feed      *feed.Feed
	collector *collector.Collector
	detector  *detector.Detector
	recorder  *recorder.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(deps Deps) (*Engine, error) {
	if len(deps.Adapters) == 0 {
		return nil, errors.New("engine: no adapters configured")
	}

	lg := deps.Logger
	store := pricestore.New()
	fd := feed.New(deps.Config.Feed, lg)

	col := collector.New(store, lg)
	for _, a := range deps.Adapters {
		col.Add(a.Adapter, a.Config)
	}

	e := &Engine{
		cfg:       deps.Config,
		logger:    lg.With().Str("component", "engine").Logger(),
		store:     store,
		feed:      fd,
		collector: col,
		detector:  detector.New(deps.Config.Detector, store, fd, lg),
	}
	if deps.Repo != nil {
		e.recorder = recorder.New(deps.Repo, fd, store, deps.Config.SnapshotInterval, lg)
	}
	return e, nil
}

// Start launches all workers and returns immediately.
// Workers stop when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.collector.Run(gctx) })
	g.Go(func() error { return e.detector.Run(gctx) })
	g.Go(func() error { return e.feed.Run(gctx) })
	if e.recorder != nil {
		g.Go(func() error { return e.recorder.Run(gctx) })
	}

	e.cancel = cancel
	e.group = g
	e.logger.Info().
		Int("adapters", e.collector.Len()).
		Bool("recorder", e.recorder != nil).
		Msg("engine started")
	return nil
}

// Stop cancels all workers and waits for them to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, g := e.cancel, e.group
	e.cancel, e.group = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	e.logger.Info().Msg("engine stopped")
	return err
}

// Wait blocks until the workers exit on their own or through Stop.
func (e *Engine) Wait() error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

func (e *Engine) Store() *pricestore.Store        { return e.store }
func (e *Engine) Feed() *feed.Feed                { return e.feed }
func (e *Engine) Collector() *collector.Collector { return e.collector }
func (e *Engine) Detector() *detector.Detector    { return e.detector }
func (e *Engine) Config() Config                  { return e.cfg }

// PriceView is a stored quote with its staleness at snapshot time.
type PriceView struct {
	model.PriceQuote
	AgeMs int64 `json:"age_ms"`
	Stale bool  `json:"stale"`
}

type PriceSnapshot struct {
	Version uint64      `json:"version"`
	TakenAt time.Time   `json:"taken_at"`
	Prices  []PriceView `json:"prices"`
}

// Snapshot returns all current prices, flagging those older than the detector's max age.
func (e *Engine) Snapshot() PriceSnapshot {
	snap := e.store.Snapshot()
	list := snap.List()

	out := PriceSnapshot{
		Version: snap.Version,
		TakenAt: snap.TakenAt,
		Prices:  make([]PriceView, 0, len(list)),
	}
	for _, q := range list {
		out.Prices = append(out.Prices, PriceView{
			PriceQuote: q,
			AgeMs:      q.Age(snap.TakenAt).Milliseconds(),
			Stale:      !dsvc.Fresh(q.Timestamp, snap.TakenAt, e.cfg.Detector.MaxQuoteAge),
		})
	}
	return out
}
