package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"

	"github.com/rs/zerolog"
)

// QuoteSink receives successfully fetched quotes. Satisfied by *pricestore.Store.
type QuoteSink interface {
	PutBatch(qs []model.PriceQuote) int
}

const defaultBackoffMax = 60 * time.Second

// AdapterConfig tunes one adapter worker.
type AdapterConfig struct {
	Interval             time.Duration // cadence while healthy
	Timeout              time.Duration // per Fetch call, 0 = no extra deadline
	Backoff              Backoff       // Base is at least Interval; Max at least 2*Base
	DisableAfterFailures int           // 0 = retry forever
}

// Collector runs one polling worker per adapter.
// A failing adapter only delays itself; other workers keep their cadence.
type Collector struct {
	sink    QuoteSink
	logger  zerolog.Logger
	workers []*worker
	now     func() time.Time
}

func New(sink QuoteSink, logger zerolog.Logger) *Collector {
	return &Collector{
		sink:   sink,
		logger: logger.With().Str("component", "collector").Logger(),
		now:    time.Now,
	}
}

// Add registers an adapter. Must be called before Run.
func (c *Collector) Add(a port.PriceAdapter, cfg AdapterConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = cfg.Interval
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = maxDur(defaultBackoffMax, 8*cfg.Backoff.Base)
	}
	// a failing adapter must never retry sooner than a healthy one polls,
	// and the delay must have room to grow past Base
	cfg.Backoff.Base = maxDur(cfg.Backoff.Base, cfg.Interval)
	cfg.Backoff.Max = maxDur(cfg.Backoff.Max, 2*cfg.Backoff.Base)
	w := &worker{
		adapter: a,
		cfg:     cfg,
		sink:    c.sink,
		logger:  c.logger.With().Str("exchange", a.Name()).Logger(),
		now:     c.now,
		wait:    sleepCtx,
	}
	w.status.Exchange = a.Name()
	w.status.State = model.AdapterIdle
	c.workers = append(c.workers, w)
}

// Len returns the number of registered adapters.
func (c *Collector) Len() int { return len(c.workers) }

// Run blocks until ctx is cancelled and all workers have exited.
func (c *Collector) Run(ctx context.Context) error {
	if len(c.workers) == 0 {
		return errors.New("collector: no adapters")
	}

	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
		c.logger.Info().
			Str("exchange", w.adapter.Name()).
			Dur("interval", w.cfg.Interval).
			Msg("adapter worker started")
	}
	wg.Wait()
	c.logger.Info().Msg("collector stopped")
	return nil
}

// Status returns one snapshot per adapter, sorted by exchange.
func (c *Collector) Status() []model.AdapterStatus {
	out := make([]model.AdapterStatus, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

type worker struct {
	adapter port.PriceAdapter
	cfg     AdapterConfig
	sink    QuoteSink
	logger  zerolog.Logger
	now     func() time.Time
	wait    func(ctx context.Context, d time.Duration) error
	seq     uint64 // last stamped sequence, worker goroutine only

	mu     sync.Mutex
	status model.AdapterStatus
}

func (w *worker) run(ctx context.Context) {
	defer w.setState(model.AdapterStopped)

	if s, ok := w.adapter.(port.Starter); ok {
		if err := s.Start(ctx); err != nil {
			w.logger.Error().Err(err).Msg("adapter start failed")
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		delay, disabled := w.pollOnce(ctx)
		if disabled {
			return
		}
		if err := w.wait(ctx, delay); err != nil {
			return
		}
	}
}

// pollOnce performs one Polling transition and returns the delay before the next one.
func (w *worker) pollOnce(ctx context.Context) (delay time.Duration, disabled bool) {
	w.setState(model.AdapterPolling)

	quotes, err := w.fetch(ctx)
	if ctx.Err() != nil {
		// shutdown while polling: discard the result
		return 0, false
	}

	w.mu.Lock()
	w.status.TotalPolls++
	if dc, ok := w.adapter.(port.DropCounter); ok {
		w.status.QuotesDropped += dc.TakeDropped()
	}
	w.mu.Unlock()

	if err != nil {
		return w.onFailure(err)
	}
	return w.onSuccess(quotes), false
}

func (w *worker) fetch(ctx context.Context) (qs []model.PriceQuote, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: adapter panic: %v", port.ErrInternal, r)
		}
	}()

	fctx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	return w.adapter.Fetch(fctx)
}

func (w *worker) onSuccess(quotes []model.PriceQuote) time.Duration {
	valid := quotes[:0:0]
	var dropped int64
	for _, q := range quotes {
		if !q.Valid() {
			dropped++
			continue
		}
		// venues without their own sequence get a per-adapter counter
		if q.Sequence == 0 {
			w.seq++
			q.Sequence = w.seq
		}
		valid = append(valid, q)
	}
	written := w.sink.PutBatch(valid)

	w.mu.Lock()
	prevFailures := w.status.ConsecutiveFailures
	w.status.ConsecutiveFailures = 0
	w.status.State = model.AdapterSuccess
	w.status.QuotesWritten += int64(written)
	w.status.QuotesDropped += dropped
	w.status.LastSuccess = w.now()
	w.status.NextDelay = w.cfg.Interval
	w.mu.Unlock()

	if prevFailures > 0 {
		w.logger.Info().Int("after_failures", prevFailures).Msg("adapter recovered, backoff cleared")
	}
	if dropped > 0 {
		w.logger.Warn().Int64("dropped", dropped).Msg("dropped invalid quotes")
	}
	w.logger.Debug().Int("quotes", len(quotes)).Int("written", written).Msg("poll ok")

	w.setState(model.AdapterIdle)
	return w.cfg.Interval
}

func (w *worker) onFailure(err error) (time.Duration, bool) {
	w.mu.Lock()
	w.status.ConsecutiveFailures++
	w.status.TotalFailures++
	n := w.status.ConsecutiveFailures
	w.status.LastError = err.Error()
	delay := maxDur(w.cfg.Backoff.Delay(n), port.RetryAfter(err))
	w.status.NextDelay = delay

	disabled := w.cfg.DisableAfterFailures > 0 && n >= w.cfg.DisableAfterFailures
	if disabled {
		w.status.State = model.AdapterDisabled
	} else {
		w.status.State = model.AdapterFailed
	}
	w.mu.Unlock()

	ev := w.logger.Warn()
	if !port.IsTransient(err) {
		ev = w.logger.Error()
	}
	ev.Err(err).
		Int("consecutive_failures", n).
		Dur("backoff", delay).
		Msg("poll failed")

	if disabled {
		w.logger.Error().Int("consecutive_failures", n).Msg("adapter disabled after repeated failures")
		return 0, true
	}
	return delay, false
}

func (w *worker) setState(s model.AdapterState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.State == model.AdapterDisabled && s != model.AdapterDisabled {
		return
	}
	w.status.State = s
}

func (w *worker) snapshot() model.AdapterStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
