// Package feed keeps the bounded, ordered log of detected opportunities.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"arbwatch/internal/domain/model"

	"github.com/rs/zerolog"
)

const (
	DefaultCapacity      = 1000
	DefaultSweepInterval = time.Second
	subscriberBuffer     = 64
)

type Config struct {
	Capacity      int
	SweepInterval time.Duration
}

// Feed is an append-only, capacity-bounded log ordered by Seq.
// Expired entries are removed by Sweep and hidden from readers until then.
type Feed struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries []model.FeedEntry
	seq     uint64
	notify  chan struct{}
	counts  counters
}

func New(cfg Config, logger zerolog.Logger) *Feed {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Feed{
		cfg:    cfg,
		logger: logger.With().Str("component", "feed").Logger(),
		now:    time.Now,
		notify: make(chan struct{}),
	}
}

// Append assigns sequence numbers and returns the created entries.
// When over capacity, expired entries go first, then the oldest survivors.
func (f *Feed) Append(opps ...model.Opportunity) []model.FeedEntry {
	if len(opps) == 0 {
		return nil
	}
	now := f.now()

	f.mu.Lock()
	out := make([]model.FeedEntry, 0, len(opps))
	for _, o := range opps {
		f.seq++
		e := model.FeedEntry{Seq: f.seq, Opportunity: o}
		f.entries = append(f.entries, e)
		out = append(out, e)
		f.counts.appended++
	}
	if len(f.entries) > f.cfg.Capacity {
		f.counts.expired += uint64(f.removeExpiredLocked(now))
	}
	if over := len(f.entries) - f.cfg.Capacity; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
		f.counts.evicted += uint64(over)
	}
	ch := f.notify
	f.notify = make(chan struct{})
	f.mu.Unlock()

	close(ch)
	return out
}

// Since returns up to limit live entries with Seq > afterSeq, oldest first.
// limit <= 0 means no limit.
func (f *Feed) Since(afterSeq uint64, limit int) []model.FeedEntry {
	entries, _ := f.since(afterSeq, limit)
	return entries
}

func (f *Feed) since(afterSeq uint64, limit int) ([]model.FeedEntry, <-chan struct{}) {
	now := f.now()

	f.mu.RLock()
	defer f.mu.RUnlock()

	i := sort.Search(len(f.entries), func(i int) bool { return f.entries[i].Seq > afterSeq })
	var out []model.FeedEntry
	for ; i < len(f.entries); i++ {
		e := f.entries[i]
		if e.Opportunity.Expired(now) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, f.notify
}

// Snapshot returns all live entries.
func (f *Feed) Snapshot() []model.FeedEntry {
	return f.Since(0, 0)
}

// Latest returns the last assigned sequence number.
func (f *Feed) Latest() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq
}

// Len returns the number of retained entries, including not-yet-swept expired ones.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Subscribe streams live entries with Seq > afterSeq until ctx is done.
// Entries evicted before a slow subscriber reaches them are skipped.
func (f *Feed) Subscribe(ctx context.Context, afterSeq uint64) <-chan model.FeedEntry {
	ch := make(chan model.FeedEntry, subscriberBuffer)
	go func() {
		defer close(ch)
		cursor := afterSeq
		for {
			entries, wake := f.since(cursor, 0)
			for _, e := range entries {
				select {
				case ch <- e:
					cursor = e.Seq
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Sweep removes entries expired at now and returns how many were removed.
func (f *Feed) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.removeExpiredLocked(now)
	f.counts.expired += uint64(n)
	return n
}

func (f *Feed) removeExpiredLocked(now time.Time) int {
	kept := f.entries[:0:0]
	for _, e := range f.entries {
		if !e.Opportunity.Expired(now) {
			kept = append(kept, e)
		}
	}
	n := len(f.entries) - len(kept)
	if n > 0 {
		f.entries = kept
	}
	return n
}

// Run sweeps expired entries every SweepInterval until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := f.Sweep(f.now()); n > 0 {
				f.logger.Debug().Int("expired", n).Int("retained", f.Len()).Msg("sweep")
			}
		}
	}
}
