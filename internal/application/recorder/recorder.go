// Package recorder persists feed entries and periodic price snapshots.
package recorder

import (
	"context"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/application/pricestore"
	"arbwatch/internal/domain/model"

	"github.com/rs/zerolog"
)

type FeedSource interface {
	Subscribe(ctx context.Context, afterSeq uint64) <-chan model.FeedEntry
}

type QuoteSource interface {
	Snapshot() pricestore.Snapshot
}

type Recorder struct {
	repo             port.Repository
	feed             FeedSource
	store            QuoteSource
	snapshotInterval time.Duration
	writeTimeout     time.Duration
	logger           zerolog.Logger

	lastVersion uint64
	written     map[model.StoreKey]time.Time
}

func New(repo port.Repository, feed FeedSource, store QuoteSource, snapshotInterval time.Duration, logger zerolog.Logger) *Recorder {
	if snapshotInterval <= 0 {
		snapshotInterval = 5 * time.Second
	}
	return &Recorder{
		repo:             repo,
		feed:             feed,
		store:            store,
		snapshotInterval: snapshotInterval,
		writeTimeout:     3 * time.Second,
		logger:           logger.With().Str("component", "recorder").Logger(),
		written:          make(map[model.StoreKey]time.Time),
	}
}

// Run blocks until ctx is done. A final snapshot is flushed on the way out.
func (r *Recorder) Run(ctx context.Context) error {
	entries := r.feed.Subscribe(ctx, 0)
	ticker := time.NewTicker(r.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flushQuotes(context.Background())
			return nil
		case e, ok := <-entries:
			if !ok {
				r.flushQuotes(context.Background())
				return nil
			}
			r.saveOpportunity(ctx, e)
		case <-ticker.C:
			r.flushQuotes(ctx)
		}
	}
}

func (r *Recorder) saveOpportunity(ctx context.Context, e model.FeedEntry) {
	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.repo.SaveOpportunity(wctx, e); err != nil {
		r.logger.Warn().Err(err).Uint64("seq", e.Seq).Str("pair", e.Opportunity.Pair).Msg("save opportunity failed")
	}
}

// flushQuotes writes quotes that changed since the last flush.
func (r *Recorder) flushQuotes(ctx context.Context) int {
	snap := r.store.Snapshot()
	if snap.Version == r.lastVersion {
		return 0
	}

	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	n := 0
	for k, q := range snap.Quotes {
		if ts, ok := r.written[k]; ok && !q.Timestamp.After(ts) {
			continue
		}
		if err := r.repo.UpsertLatestQuote(wctx, q); err != nil {
			r.logger.Warn().Err(err).Str("key", k.String()).Msg("upsert quote failed")
			continue
		}
		r.written[k] = q.Timestamp
		n++
	}
	r.lastVersion = snap.Version
	if n > 0 {
		r.logger.Debug().Int("quotes", n).Uint64("version", snap.Version).Msg("snapshot persisted")
	}
	return n
}
