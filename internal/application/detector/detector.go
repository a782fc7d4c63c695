// Package detector scans price snapshots for cross-exchange spreads.
package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/application/pricestore"
	"arbwatch/internal/domain/model"
	dsvc "arbwatch/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Source is satisfied by *pricestore.Store.
type Source interface {
	Snapshot() pricestore.Snapshot
}

// Sink is satisfied by *feed.Feed.
type Sink interface {
	Append(opps ...model.Opportunity) []model.FeedEntry
}

type Config struct {
	ScanInterval   time.Duration
	MaxQuoteAge    time.Duration // age >= MaxQuoteAge is stale; 0 disables the check
	ThresholdPct   decimal.Decimal
	OpportunityTTL time.Duration
	TakerFeePct    map[string]decimal.Decimal // by exchange, missing = 0
	SlippagePct    decimal.Decimal
}

// CycleReport summarizes one detection pass.
type CycleReport struct {
	Scanned       int
	Stale         int
	PairsCompared int
	Found         int
}

type Detector struct {
	cfg    Config
	src    Source
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

func New(cfg Config, src Source, sink Sink, logger zerolog.Logger) *Detector {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.OpportunityTTL <= 0 {
		cfg.OpportunityTTL = 30 * time.Second
	}
	return &Detector{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		logger: logger.With().Str("component", "detector").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run executes a cycle every ScanInterval until ctx is done.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.RunCycle(); err != nil {
				d.logger.Error().Err(err).Msg("cycle skipped")
			}
		}
	}
}

// RunCycle runs one detection pass and appends what it finds to the sink.
// A panic inside the pass is reported as port.ErrInternal and nothing is appended.
func (d *Detector) RunCycle() (rep CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			rep = CycleReport{}
			err = fmt.Errorf("%w: detector panic: %v", port.ErrInternal, r)
		}
	}()

	opps, rep := d.Detect(d.src.Snapshot(), d.now())
	if len(opps) > 0 {
		d.sink.Append(opps...)
	}

	d.logger.Debug().
		Int("scanned", rep.Scanned).
		Int("stale", rep.Stale).
		Int("pairs", rep.PairsCompared).
		Int("found", rep.Found).
		Msg("cycle")
	return rep, nil
}

// Detect is the pure part of a cycle: every qualifying (buy, sell) exchange
// combination per pair, at most once each.
func (d *Detector) Detect(snap pricestore.Snapshot, now time.Time) ([]model.Opportunity, CycleReport) {
	var rep CycleReport

	byPair := make(map[string][]*model.PriceQuote)
	for _, q := range snap.Quotes {
		rep.Scanned++
		if !dsvc.Fresh(q.Timestamp, now, d.cfg.MaxQuoteAge) {
			rep.Stale++
			continue
		}
		byPair[q.Pair] = append(byPair[q.Pair], q)
	}

	pairs := make([]string, 0, len(byPair))
	for p, qs := range byPair {
		if len(qs) >= 2 {
			pairs = append(pairs, p)
		}
	}
	sort.Strings(pairs)

	var out []model.Opportunity
	for _, pair := range pairs {
		qs := byPair[pair]
		sort.Slice(qs, func(i, j int) bool { return qs[i].Exchange < qs[j].Exchange })
		rep.PairsCompared++

		for _, buy := range qs {
			for _, sell := range qs {
				if buy.Exchange == sell.Exchange {
					continue
				}
				if o, ok := d.evaluate(buy, sell, now); ok {
					out = append(out, o)
				}
			}
		}
	}
	rep.Found = len(out)
	return out, rep
}

func (d *Detector) evaluate(buy, sell *model.PriceQuote, now time.Time) (model.Opportunity, bool) {
	buyPx, sellPx := buy.Ask, sell.Bid
	if !buyPx.LessThan(sellPx) {
		return model.Opportunity{}, false
	}

	spread := dsvc.SpreadPct(buyPx, sellPx)
	net := dsvc.NetSpreadPct(spread, d.cfg.TakerFeePct[buy.Exchange], d.cfg.TakerFeePct[sell.Exchange], d.cfg.SlippagePct)
	if !net.GreaterThan(d.cfg.ThresholdPct) {
		return model.Opportunity{}, false
	}

	vol := buy.Volume24h
	if sell.Volume24h.LessThan(vol) {
		vol = sell.Volume24h
	}

	return model.Opportunity{
		ID:           d.newID(),
		Pair:         buy.Pair,
		BuyExchange:  buy.Exchange,
		SellExchange: sell.Exchange,
		BuyPrice:     buyPx,
		SellPrice:    sellPx,
		SpreadPct:    spread,
		NetSpreadPct: net,
		Volume24h:    vol,
		DetectedAt:   now,
		ExpiresAt:    now.Add(d.cfg.OpportunityTTL),
	}, true
}
