package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/application/collector"
	"arbwatch/internal/application/detector"
	"arbwatch/internal/application/engine"
	"arbwatch/internal/application/feed"
	"arbwatch/internal/domain/model"
)

type idleAdapter struct{ name string }

func (a idleAdapter) Name() string { return a.name }
func (a idleAdapter) Fetch(ctx context.Context) ([]model.PriceQuote, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ac := collector.AdapterConfig{Interval: time.Second}
	eng, err := engine.New(engine.Deps{
		Config: engine.Config{
			Detector: detector.Config{
				ScanInterval:   time.Second,
				MaxQuoteAge:    5 * time.Second,
				ThresholdPct:   decimal.NewFromFloat(0.5),
				OpportunityTTL: time.Minute,
			},
			Feed: feed.Config{Capacity: 100, SweepInterval: time.Second},
		},
		Adapters: []engine.AdapterSpec{
			{Adapter: idleAdapter{name: "binance"}, Config: ac},
			{Adapter: idleAdapter{name: "okx"}, Config: ac},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func testOpp(pair, buy, sell string) model.Opportunity {
	now := time.Now()
	return model.Opportunity{
		ID:           pair + buy + sell,
		Pair:         pair,
		BuyExchange:  buy,
		SellExchange: sell,
		BuyPrice:     decimal.NewFromInt(100),
		SellPrice:    decimal.NewFromInt(101),
		SpreadPct:    decimal.NewFromInt(1),
		NetSpreadPct: decimal.NewFromInt(1),
		DetectedAt:   now,
		ExpiresAt:    now.Add(time.Minute),
	}
}

func get(t *testing.T, h http.Handler, target string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if v != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	s := New(":0", newTestEngine(t), nil, zerolog.Nop())

	var body map[string]any
	if code := get(t, s.Handler(), "/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["adapters"] != float64(2) {
		t.Errorf("adapters = %v", body["adapters"])
	}
}

func TestPricesFlagsStaleAndFilters(t *testing.T) {
	eng := newTestEngine(t)
	now := time.Now()
	eng.Store().Put(model.PriceQuote{
		Exchange: "binance", Pair: "BTC/USDT",
		Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), Timestamp: now,
	})
	eng.Store().Put(model.PriceQuote{
		Exchange: "okx", Pair: "BTC/USDT",
		Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101), Timestamp: now.Add(-time.Minute),
	})
	eng.Store().Put(model.PriceQuote{
		Exchange: "okx", Pair: "ETH/USDT",
		Bid: decimal.NewFromInt(10), Ask: decimal.NewFromInt(11), Timestamp: now,
	})
	h := New(":0", eng, nil, zerolog.Nop()).Handler()

	var snap engine.PriceSnapshot
	get(t, h, "/api/prices", &snap)
	if len(snap.Prices) != 3 {
		t.Fatalf("prices = %d, want 3", len(snap.Prices))
	}
	stale := map[string]bool{}
	for _, p := range snap.Prices {
		stale[p.Key().String()] = p.Stale
	}
	if stale["binance:BTC/USDT"] || !stale["okx:BTC/USDT"] {
		t.Errorf("stale flags = %v", stale)
	}

	var filtered engine.PriceSnapshot
	get(t, h, "/api/prices?pair=eth-usdt", &filtered)
	if len(filtered.Prices) != 1 || filtered.Prices[0].Pair != "ETH/USDT" {
		t.Errorf("pair filter = %+v", filtered.Prices)
	}
	get(t, h, "/api/prices?exchange=binance", &filtered)
	if len(filtered.Prices) != 1 || filtered.Prices[0].Exchange != "binance" {
		t.Errorf("exchange filter = %+v", filtered.Prices)
	}
}

func TestOpportunitiesSinceAndLimit(t *testing.T) {
	eng := newTestEngine(t)
	eng.Feed().Append(
		testOpp("BTC/USDT", "binance", "okx"),
		testOpp("ETH/USDT", "binance", "okx"),
		testOpp("SOL/USDT", "okx", "binance"),
	)
	h := New(":0", eng, nil, zerolog.Nop()).Handler()

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantSeqs []uint64
	}{
		{"all", "/api/opportunities", http.StatusOK, []uint64{1, 2, 3}},
		{"since", "/api/opportunities?since=1", http.StatusOK, []uint64{2, 3}},
		{"limit", "/api/opportunities?since=1&limit=1", http.StatusOK, []uint64{2}},
		{"caught up", "/api/opportunities?since=3", http.StatusOK, []uint64{}},
		{"bad since", "/api/opportunities?since=-1", http.StatusBadRequest, nil},
		{"bad limit", "/api/opportunities?limit=0", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp opportunitiesResponse
			code := get(t, h, tt.target, &resp)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d", code, tt.wantCode)
			}
			if code != http.StatusOK {
				return
			}
			if resp.LatestSeq != 3 {
				t.Errorf("latest_seq = %d", resp.LatestSeq)
			}
			if len(resp.Entries) != len(tt.wantSeqs) {
				t.Fatalf("entries = %d, want %d", len(resp.Entries), len(tt.wantSeqs))
			}
			for i, e := range resp.Entries {
				if e.Seq != tt.wantSeqs[i] {
					t.Errorf("entry %d seq = %d, want %d", i, e.Seq, tt.wantSeqs[i])
				}
			}
		})
	}
}

func TestStatsAndCollector(t *testing.T) {
	eng := newTestEngine(t)
	eng.Feed().Append(testOpp("BTC/USDT", "binance", "okx"))
	h := New(":0", eng, nil, zerolog.Nop()).Handler()

	var st feed.Stats
	get(t, h, "/api/stats", &st)
	if st.Active != 1 || st.ByPair["BTC/USDT"] != 1 || st.ByExchange["okx"] != 1 {
		t.Errorf("stats = %+v", st)
	}

	var statuses []model.AdapterStatus
	get(t, h, "/api/collector", &statuses)
	if len(statuses) != 2 || statuses[0].Exchange != "binance" || statuses[1].Exchange != "okx" {
		t.Errorf("collector = %+v", statuses)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := New(":0", newTestEngine(t), nil, zerolog.Nop()).Handler()

	if code := get(t, h, "/api/nothing", nil); code != http.StatusNotFound {
		t.Errorf("unknown route = %d", code)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/prices", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/prices = %d", rec.Code)
	}
}

type fakeHistory struct {
	since time.Time
	limit int
	opps  []model.Opportunity
	err   error
}

func (f *fakeHistory) ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error) {
	f.since, f.limit = since, limit
	return f.opps, f.err
}

func TestOpportunityHistory(t *testing.T) {
	hist := &fakeHistory{opps: []model.Opportunity{testOpp("BTC/USDT", "okx", "binance")}}
	h := New(":0", newTestEngine(t), hist, zerolog.Nop()).Handler()

	var body historyResponse
	if code := get(t, h, "/api/opportunities/history?since=1700000000000&limit=5000", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 || len(body.Opportunities) != 1 || body.Opportunities[0].Pair != "BTC/USDT" {
		t.Errorf("body = %+v", body)
	}
	if hist.since.UnixMilli() != 1700000000000 || hist.limit != maxLimit {
		t.Errorf("query since=%v limit=%d", hist.since, hist.limit)
	}

	if code := get(t, h, "/api/opportunities/history?since=2023-11-14T22:13:20Z", &body); code != http.StatusOK {
		t.Fatalf("rfc3339 status = %d", code)
	}
	if hist.since.Unix() != 1700000000 || hist.limit != defaultLimit {
		t.Errorf("query since=%v limit=%d", hist.since, hist.limit)
	}

	for _, target := range []string{
		"/api/opportunities/history?since=yesterday",
		"/api/opportunities/history?since=-5",
		"/api/opportunities/history?limit=0",
	} {
		if code := get(t, h, target, nil); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, code)
		}
	}

	hist.opps, hist.err = nil, errors.New("database is locked")
	if code := get(t, h, "/api/opportunities/history", nil); code != http.StatusInternalServerError {
		t.Errorf("failing backend status = %d", code)
	}
}

func TestOpportunityHistoryWithoutStorage(t *testing.T) {
	h := New(":0", newTestEngine(t), nil, zerolog.Nop()).Handler()
	if code := get(t, h, "/api/opportunities/history", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
