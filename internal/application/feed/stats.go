package feed

import (
	"github.com/shopspring/decimal"
)

type counters struct {
	appended uint64
	evicted  uint64
	expired  uint64
}

// Stats summarizes the feed: lifetime counters plus aggregates over live entries.
type Stats struct {
	TotalAppended   uint64          `json:"total_appended"`
	EvictedCapacity uint64          `json:"evicted_capacity"`
	EvictedExpired  uint64          `json:"evicted_expired"`
	Active          int             `json:"active"`
	LatestSeq       uint64          `json:"latest_seq"`
	AvgSpreadPct    decimal.Decimal `json:"avg_spread_pct"`
	MaxSpreadPct    decimal.Decimal `json:"max_spread_pct"`
	ByPair          map[string]int  `json:"by_pair"`
	ByExchange      map[string]int  `json:"by_exchange"` // each leg counts once
}

func (f *Feed) Stats() Stats {
	live := f.Snapshot()

	f.mu.RLock()
	st := Stats{
		TotalAppended:   f.counts.appended,
		EvictedCapacity: f.counts.evicted,
		EvictedExpired:  f.counts.expired,
		LatestSeq:       f.seq,
	}
	f.mu.RUnlock()

	st.Active = len(live)
	st.ByPair = make(map[string]int)
	st.ByExchange = make(map[string]int)

	sum := decimal.Zero
	for i, e := range live {
		o := e.Opportunity
		sum = sum.Add(o.SpreadPct)
		if i == 0 || o.SpreadPct.GreaterThan(st.MaxSpreadPct) {
			st.MaxSpreadPct = o.SpreadPct
		}
		st.ByPair[o.Pair]++
		st.ByExchange[o.BuyExchange]++
		st.ByExchange[o.SellExchange]++
	}
	if len(live) > 0 {
		st.AvgSpreadPct = sum.Div(decimal.NewFromInt(int64(len(live)))).Round(4)
	}
	return st
}
