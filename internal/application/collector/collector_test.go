package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeAdapter struct {
	name    string
	mu      sync.Mutex
	calls   int
	fetchFn func(call int) ([]model.PriceQuote, error)
	dropped int64
	started atomic.Bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context) ([]model.PriceQuote, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fetchFn(n)
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type startingAdapter struct{ *fakeAdapter }

func (s startingAdapter) Start(ctx context.Context) error {
	s.started.Store(true)
	return nil
}

func (s startingAdapter) TakeDropped() int64 {
	return atomic.SwapInt64(&s.dropped, 0)
}

type sinkRecorder struct {
	mu     sync.Mutex
	quotes []model.PriceQuote
}

func (s *sinkRecorder) PutBatch(qs []model.PriceQuote) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, qs...)
	return len(qs)
}

func (s *sinkRecorder) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotes)
}

func okQuote(ex string) model.PriceQuote {
	return model.PriceQuote{
		Exchange:  ex,
		Pair:      "BTC/USD",
		Bid:       decimal.NewFromInt(100),
		Ask:       decimal.NewFromInt(101),
		Timestamp: time.Now(),
	}
}

func netErr(ex string) error {
	return port.NewFetchError(ex, port.ErrNetwork, errors.New("connection refused"))
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := b.Delay(1000); got != time.Second {
		t.Errorf("Delay(1000) = %v, want cap", got)
	}
}

// runWorker drives a single worker with a recording wait until stop returns true.
func runWorker(t *testing.T, w *worker, stop func(polls int) bool) []time.Duration {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	w.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if stop(len(delays)) {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	done := make(chan struct{})
	go func() {
		w.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	return delays
}

func newWorker(c *Collector) *worker { return c.workers[len(c.workers)-1] }

func TestBackoffIncreasesAcrossConsecutiveFailures(t *testing.T) {
	sink := &sinkRecorder{}
	c := New(sink, zerolog.Nop())
	a := &fakeAdapter{name: "C", fetchFn: func(int) ([]model.PriceQuote, error) { return nil, netErr("C") }}
	c.Add(a, AdapterConfig{
		Interval: 50 * time.Millisecond,
		Backoff:  Backoff{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond},
	})

	delays := runWorker(t, newWorker(c), func(n int) bool { return n >= 4 })

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	st := c.Status()[0]
	if st.ConsecutiveFailures != 4 || st.TotalFailures != 4 {
		t.Errorf("status = %+v", st)
	}
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
	if st.State != model.AdapterStopped {
		t.Errorf("state = %s, want stopped", st.State)
	}
	if sink.Len() != 0 {
		t.Error("failed polls must not write")
	}
}

func TestSuccessClearsBackoff(t *testing.T) {
	sink := &sinkRecorder{}
	c := New(sink, zerolog.Nop())
	a := &fakeAdapter{name: "A", fetchFn: func(n int) ([]model.PriceQuote, error) {
		if n <= 2 {
			return nil, netErr("A")
		}
		return []model.PriceQuote{okQuote("A")}, nil
	}}
	c.Add(a, AdapterConfig{Interval: 10 * time.Millisecond, Backoff: Backoff{Base: 40 * time.Millisecond, Max: time.Second}})

	delays := runWorker(t, newWorker(c), func(n int) bool { return n >= 3 })

	want := []time.Duration{40 * time.Millisecond, 80 * time.Millisecond, 10 * time.Millisecond}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
	st := c.Status()[0]
	if st.ConsecutiveFailures != 0 || st.TotalFailures != 2 || st.QuotesWritten != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.LastSuccess.IsZero() {
		t.Error("last success not set")
	}
}

func TestRetryAfterHintWins(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	a := &fakeAdapter{name: "R", fetchFn: func(int) ([]model.PriceQuote, error) {
		fe := port.NewFetchError("R", port.ErrRateLimited, nil)
		fe.RetryAfter = 5 * time.Second
		return nil, fe
	}}
	c.Add(a, AdapterConfig{Interval: 10 * time.Millisecond, Backoff: Backoff{Base: 10 * time.Millisecond, Max: time.Second}})

	delays := runWorker(t, newWorker(c), func(n int) bool { return n >= 1 })
	if delays[0] != 5*time.Second {
		t.Errorf("delay = %v, want Retry-After 5s", delays[0])
	}
}

func TestDisableAfterFailures(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	a := &fakeAdapter{name: "D", fetchFn: func(int) ([]model.PriceQuote, error) { return nil, netErr("D") }}
	c.Add(a, AdapterConfig{Interval: time.Millisecond, DisableAfterFailures: 3})

	runWorker(t, newWorker(c), func(n int) bool { return n >= 100 })

	if a.Calls() != 3 {
		t.Errorf("calls = %d, want 3", a.Calls())
	}
	if st := c.Status()[0]; st.State != model.AdapterDisabled {
		t.Errorf("state = %s, want disabled", st.State)
	}
}

func TestInvalidQuotesDroppedAndCounted(t *testing.T) {
	sink := &sinkRecorder{}
	c := New(sink, zerolog.Nop())
	base := &fakeAdapter{name: "S", dropped: 2, fetchFn: func(int) ([]model.PriceQuote, error) {
		crossed := okQuote("S")
		crossed.Bid = decimal.NewFromInt(200)
		return []model.PriceQuote{okQuote("S"), crossed}, nil
	}}
	a := startingAdapter{base}
	c.Add(a, AdapterConfig{Interval: time.Millisecond})

	runWorker(t, newWorker(c), func(n int) bool { return n >= 1 })

	if !base.started.Load() {
		t.Error("Start not called on streaming adapter")
	}
	st := c.Status()[0]
	if st.QuotesWritten != 1 {
		t.Errorf("written = %d, want 1", st.QuotesWritten)
	}
	// 2 reported by the adapter + 1 crossed book
	if st.QuotesDropped != 3 {
		t.Errorf("dropped = %d, want 3", st.QuotesDropped)
	}
	if st.ConsecutiveFailures != 0 {
		t.Error("data-quality drops must not count as failures")
	}
}

func TestAdapterPanicIsAFailure(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	a := &fakeAdapter{name: "P", fetchFn: func(int) ([]model.PriceQuote, error) { panic("boom") }}
	c.Add(a, AdapterConfig{Interval: time.Millisecond})

	runWorker(t, newWorker(c), func(n int) bool { return n >= 1 })

	if st := c.Status()[0]; st.ConsecutiveFailures != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestFailingAdapterDoesNotStallOthers(t *testing.T) {
	sink := &sinkRecorder{}
	c := New(sink, zerolog.Nop())

	block := make(chan struct{})
	slow := &fakeAdapter{name: "C", fetchFn: func(int) ([]model.PriceQuote, error) {
		<-block
		return nil, netErr("C")
	}}
	fast := &fakeAdapter{name: "A", fetchFn: func(int) ([]model.PriceQuote, error) {
		return []model.PriceQuote{okQuote("A")}, nil
	}}
	c.Add(slow, AdapterConfig{Interval: time.Millisecond, Backoff: Backoff{Base: time.Hour}})
	c.Add(fast, AdapterConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fast.Calls() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fast.Calls() < 5 {
		t.Fatalf("healthy adapter polled %d times while another was stuck", fast.Calls())
	}

	close(block)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}

	for _, st := range c.Status() {
		if st.State != model.AdapterStopped {
			t.Errorf("%s state = %s, want stopped", st.Exchange, st.State)
		}
	}
}

func TestRunWithoutAdapters(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBackoffGrowsWhenIntervalExceedsMax(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	a := &fakeAdapter{name: "slowpoll", fetchFn: func(int) ([]model.PriceQuote, error) { return nil, netErr("slowpoll") }}
	c.Add(a, AdapterConfig{
		Interval: 120 * time.Second,
		Backoff:  Backoff{Max: 60 * time.Second},
	})

	delays := runWorker(t, newWorker(c), func(n int) bool { return n >= 3 })

	want := []time.Duration{2 * time.Minute, 4 * time.Minute, 4 * time.Minute}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
	if delays[1] <= delays[0] {
		t.Errorf("backoff did not grow: %v", delays)
	}
}

func TestAddDefaultsBackoff(t *testing.T) {
	c := New(&sinkRecorder{}, zerolog.Nop())
	c.Add(&fakeAdapter{name: "a"}, AdapterConfig{Interval: 2 * time.Second})
	c.Add(&fakeAdapter{name: "b"}, AdapterConfig{Interval: 30 * time.Second})
	c.Add(&fakeAdapter{name: "c"}, AdapterConfig{Interval: time.Second, Backoff: Backoff{Base: 100 * time.Millisecond, Max: 150 * time.Millisecond}})

	cases := []Backoff{
		{Base: 2 * time.Second, Max: time.Minute},
		{Base: 30 * time.Second, Max: 4 * time.Minute},
		{Base: time.Second, Max: 2 * time.Second},
	}
	for i, want := range cases {
		if got := c.workers[i].cfg.Backoff; got != want {
			t.Errorf("worker %d backoff = %+v, want %+v", i, got, want)
		}
	}
}

func TestSequenceStampedWhenVenueHasNone(t *testing.T) {
	sink := &sinkRecorder{}
	c := New(sink, zerolog.Nop())
	a := &fakeAdapter{name: "A", fetchFn: func(int) ([]model.PriceQuote, error) {
		eth := okQuote("A")
		eth.Pair = "ETH/USD"
		return []model.PriceQuote{okQuote("A"), eth}, nil
	}}
	c.Add(a, AdapterConfig{Interval: time.Millisecond})
	b := &fakeAdapter{name: "B", fetchFn: func(int) ([]model.PriceQuote, error) {
		q := okQuote("B")
		q.Sequence = 500
		return []model.PriceQuote{q}, nil
	}}
	c.Add(b, AdapterConfig{Interval: time.Millisecond})

	runWorker(t, c.workers[0], func(n int) bool { return n >= 2 })
	runWorker(t, c.workers[1], func(n int) bool { return n >= 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var last uint64
	var fromA int
	for _, q := range sink.quotes {
		if q.Exchange == "B" {
			if q.Sequence != 500 {
				t.Errorf("venue sequence overwritten: %d", q.Sequence)
			}
			continue
		}
		fromA++
		if q.Sequence <= last {
			t.Errorf("sequence %d not above %d", q.Sequence, last)
		}
		last = q.Sequence
	}
	if fromA != 4 {
		t.Errorf("quotes from A = %d, want 4", fromA)
	}
}
