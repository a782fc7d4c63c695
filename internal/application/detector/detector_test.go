package detector

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/application/pricestore"
	"arbwatch/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var now0 = time.Unix(1_700_000_000, 0)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.Opportunity
}

func (s *recordingSink) Append(opps ...model.Opportunity) []model.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, opps)
	return nil
}

type panickingSource struct{}

func (panickingSource) Snapshot() pricestore.Snapshot { panic("corrupt store") }

func q(ex, pair string, bid, ask float64, age time.Duration) model.PriceQuote {
	return model.PriceQuote{
		Exchange:  ex,
		Pair:      pair,
		Bid:       decimal.NewFromFloat(bid),
		Ask:       decimal.NewFromFloat(ask),
		Timestamp: now0.Add(-age),
	}
}

func newTestDetector(cfg Config, quotes ...model.PriceQuote) (*Detector, *pricestore.Store, *recordingSink) {
	store := pricestore.New()
	store.PutBatch(quotes)
	sink := &recordingSink{}
	d := New(cfg, store, sink, zerolog.Nop())
	d.now = func() time.Time { return now0 }
	n := 0
	d.newID = func() string { n++; return fmt.Sprintf("opp-%d", n) }
	return d, store, sink
}

func defaultCfg() Config {
	return Config{
		MaxQuoteAge:    5 * time.Second,
		ThresholdPct:   decimal.NewFromFloat(0.5),
		OpportunityTTL: 30 * time.Second,
	}
}

func TestDetectBTCScenario(t *testing.T) {
	d, store, _ := newTestDetector(defaultCfg(),
		q("A", "BTC/USD", 100, 101, time.Second),
		q("B", "BTC/USD", 104, 105, time.Second),
	)

	opps, rep := d.Detect(store.Snapshot(), now0)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	o := opps[0]
	if o.BuyExchange != "A" || o.SellExchange != "B" {
		t.Errorf("direction = buy %s sell %s", o.BuyExchange, o.SellExchange)
	}
	if !o.BuyPrice.Equal(decimal.NewFromInt(101)) || !o.SellPrice.Equal(decimal.NewFromInt(104)) {
		t.Errorf("prices = %s / %s", o.BuyPrice, o.SellPrice)
	}
	if got := o.SpreadPct.Round(2); !got.Equal(decimal.NewFromFloat(2.97)) {
		t.Errorf("spread = %s, want 2.97", got)
	}
	if !o.ExpiresAt.Equal(now0.Add(30 * time.Second)) {
		t.Errorf("expires_at = %v", o.ExpiresAt)
	}
	if rep.Scanned != 2 || rep.PairsCompared != 1 || rep.Found != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestDetectBTCScenarioAtTwoPercent(t *testing.T) {
	cfg := defaultCfg()
	cfg.ThresholdPct = decimal.NewFromInt(2)
	d, store, _ := newTestDetector(cfg,
		q("A", "BTC/USD", 100, 101, time.Second),
		q("B", "BTC/USD", 104, 105, time.Second),
	)

	// (104-101)/101 = 2.9703% > 2%
	opps, _ := d.Detect(store.Snapshot(), now0)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	o := opps[0]
	if o.Pair != "BTC/USD" || o.BuyExchange != "A" || o.SellExchange != "B" {
		t.Errorf("opportunity = %+v", o)
	}
	if got := o.SpreadPct.Round(2); !got.Equal(decimal.NewFromFloat(2.97)) {
		t.Errorf("spread = %s, want 2.97", got)
	}

	cfg.ThresholdPct = decimal.NewFromInt(3)
	d, store, _ = newTestDetector(cfg,
		q("A", "BTC/USD", 100, 101, time.Second),
		q("B", "BTC/USD", 104, 105, time.Second),
	)
	if opps, _ := d.Detect(store.Snapshot(), now0); len(opps) != 0 {
		t.Errorf("2.97%% passed a 3%% threshold: %+v", opps)
	}
}

func TestDetectBelowThreshold(t *testing.T) {
	d, store, _ := newTestDetector(defaultCfg(),
		q("A", "ETH/USD", 2000, 2001, 0),
		q("B", "ETH/USD", 2005, 2006, 0),
	)
	// (2005-2001)/2001 ~ 0.2%
	if opps, _ := d.Detect(store.Snapshot(), now0); len(opps) != 0 {
		t.Fatalf("unexpected opportunities: %+v", opps)
	}
}

func TestDetectNeverBuysAtOrAboveSell(t *testing.T) {
	cfg := defaultCfg()
	cfg.ThresholdPct = decimal.NewFromInt(-100)
	d, store, _ := newTestDetector(cfg,
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "BTC/USD", 101, 102, 0),
		q("C", "BTC/USD", 99, 100, 0),
	)

	opps, _ := d.Detect(store.Snapshot(), now0)
	for _, o := range opps {
		if !o.BuyPrice.LessThan(o.SellPrice) {
			t.Errorf("buy %s >= sell %s (%s->%s)", o.BuyPrice, o.SellPrice, o.BuyExchange, o.SellExchange)
		}
		if o.BuyExchange == o.SellExchange {
			t.Errorf("same exchange on both legs: %s", o.BuyExchange)
		}
	}
	// only C(ask 100) -> B(bid 101) is strictly profitable
	if len(opps) != 1 || opps[0].BuyExchange != "C" || opps[0].SellExchange != "B" {
		t.Errorf("opps = %+v", opps)
	}
}

func TestDetectEmitsEveryQualifyingCombinationOnce(t *testing.T) {
	d, store, _ := newTestDetector(defaultCfg(),
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "BTC/USD", 104, 105, 0),
		q("C", "BTC/USD", 106, 107, 0),
	)

	opps, _ := d.Detect(store.Snapshot(), now0)
	seen := make(map[string]int)
	for _, o := range opps {
		seen[o.BuyExchange+">"+o.SellExchange]++
	}
	want := []string{"A>B", "A>C", "B>C"}
	if len(opps) != len(want) {
		t.Fatalf("got %v", seen)
	}
	for _, k := range want {
		if seen[k] != 1 {
			t.Errorf("%s emitted %d times", k, seen[k])
		}
	}
}

func TestDetectExcludesStaleQuotes(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"fresh", 4 * time.Second, 1},
		{"exactly max age", 5 * time.Second, 0},
		{"older", 6 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, _ := newTestDetector(defaultCfg(),
				q("A", "BTC/USD", 100, 101, tt.age),
				q("B", "BTC/USD", 104, 105, 0),
			)
			opps, rep := d.Detect(store.Snapshot(), now0)
			if len(opps) != tt.want {
				t.Errorf("got %d opportunities, want %d", len(opps), tt.want)
			}
			if tt.want == 0 && rep.Stale != 1 {
				t.Errorf("stale = %d, want 1", rep.Stale)
			}
		})
	}
}

func TestDetectSingleExchangePairIgnored(t *testing.T) {
	d, store, _ := newTestDetector(defaultCfg(),
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "ETH/USD", 3000, 3001, 0),
	)
	opps, rep := d.Detect(store.Snapshot(), now0)
	if len(opps) != 0 || rep.PairsCompared != 0 {
		t.Errorf("opps=%d report=%+v", len(opps), rep)
	}
}

func TestDetectFeesReduceNetSpread(t *testing.T) {
	cfg := defaultCfg()
	cfg.TakerFeePct = map[string]decimal.Decimal{
		"A": decimal.NewFromFloat(1.0),
		"B": decimal.NewFromFloat(1.0),
	}
	cfg.SlippagePct = decimal.NewFromFloat(0.6)
	d, store, _ := newTestDetector(cfg,
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "BTC/USD", 104, 105, 0),
	)
	// 2.97 - 1 - 1 - 0.6 = 0.37 < 0.5
	if opps, _ := d.Detect(store.Snapshot(), now0); len(opps) != 0 {
		t.Fatalf("fees should suppress: %+v", opps)
	}

	cfg.SlippagePct = decimal.Zero
	d2, store2, _ := newTestDetector(cfg,
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "BTC/USD", 104, 105, 0),
	)
	opps, _ := d2.Detect(store2.Snapshot(), now0)
	if len(opps) != 1 {
		t.Fatalf("got %d, want 1", len(opps))
	}
	if got := opps[0].NetSpreadPct.Round(2); !got.Equal(decimal.NewFromFloat(0.97)) {
		t.Errorf("net = %s, want 0.97", got)
	}
}

func TestRunCycleAppendsOncePerCycle(t *testing.T) {
	d, _, sink := newTestDetector(defaultCfg(),
		q("A", "BTC/USD", 100, 101, 0),
		q("B", "BTC/USD", 104, 105, 0),
	)

	for i := 0; i < 2; i++ {
		if _, err := d.RunCycle(); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if len(sink.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sink.batches))
	}
	for _, b := range sink.batches {
		if len(b) != 1 {
			t.Errorf("batch size = %d, want 1", len(b))
		}
	}
	if sink.batches[0][0].ID == sink.batches[1][0].ID {
		t.Error("each emission needs its own id")
	}
}

func TestRunCycleRecoversPanic(t *testing.T) {
	sink := &recordingSink{}
	d := New(defaultCfg(), panickingSource{}, sink, zerolog.Nop())

	_, err := d.RunCycle()
	if !errors.Is(err, port.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if len(sink.batches) != 0 {
		t.Error("panicking cycle must not emit")
	}
}
