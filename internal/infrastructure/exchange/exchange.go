// Package exchange holds what the venue adapters share.
package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"

	"github.com/shopspring/decimal"
)

// ParseQuote builds a validated quote from venue strings.
// Invalid input returns an error wrapping port.ErrDataQuality.
func ParseQuote(exchange, pair, bid, ask, volume string, ts time.Time) (model.PriceQuote, error) {
	b, err := decimal.NewFromString(strings.TrimSpace(bid))
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: %s %s bid %q", port.ErrDataQuality, exchange, pair, bid)
	}
	a, err := decimal.NewFromString(strings.TrimSpace(ask))
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("%w: %s %s ask %q", port.ErrDataQuality, exchange, pair, ask)
	}
	v := decimal.Zero
	if s := strings.TrimSpace(volume); s != "" {
		if parsed, err := decimal.NewFromString(s); err == nil {
			v = parsed
		}
	}

	q := model.PriceQuote{
		Exchange:  exchange,
		Pair:      pair,
		Bid:       b,
		Ask:       a,
		Volume24h: v,
		Timestamp: ts,
	}
	if !q.Valid() {
		return model.PriceQuote{}, fmt.Errorf("%w: %s %s bid=%s ask=%s", port.ErrDataQuality, exchange, pair, bid, ask)
	}
	return q, nil
}

// MillisToTime converts a venue epoch-millisecond value, falling back to now.
func MillisToTime(ms int64, now time.Time) time.Time {
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}

// DropCounter counts quotes discarded for data-quality reasons.
// Embed it in an adapter to satisfy port.DropCounter.
type DropCounter struct {
	n atomic.Int64
}

func (d *DropCounter) Drop(n int)         { d.n.Add(int64(n)) }
func (d *DropCounter) TakeDropped() int64 { return d.n.Swap(0) }

// QuoteCache holds the latest streamed quote per pair.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]model.PriceQuote
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]model.PriceQuote)}
}

func (c *QuoteCache) Put(q model.PriceQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.quotes[q.Pair]; ok && !q.Timestamp.After(old.Timestamp) {
		return
	}
	c.quotes[q.Pair] = q
}

func (c *QuoteCache) List() []model.PriceQuote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PriceQuote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}

// TickerRow is one venue ticker entry in string form.
type TickerRow struct {
	Symbol string
	Bid    string
	Ask    string
	Volume string
	TsMs   int64
	Seq    uint64
}

// BuildQuotes keeps rows for configured symbols and parses them. Rows that fail
// parsing and configured symbols missing from the response are counted as drops.
func BuildQuotes(exchange string, symbols *SymbolMap, rows []TickerRow, now time.Time, drops *DropCounter) []model.PriceQuote {
	out := make([]model.PriceQuote, 0, symbols.Len())
	seen := make(map[string]struct{}, symbols.Len())
	bad := 0
	for _, r := range rows {
		pair, ok := symbols.Pair(r.Symbol)
		if !ok {
			continue
		}
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		q, err := ParseQuote(exchange, pair, r.Bid, r.Ask, r.Volume, MillisToTime(r.TsMs, now))
		if err != nil {
			bad++
			continue
		}
		q.Sequence = r.Seq
		out = append(out, q)
	}
	bad += symbols.Len() - len(seen)
	if bad > 0 && drops != nil {
		drops.Drop(bad)
	}
	return out
}

// ParseMillis parses a decimal epoch-millisecond string, 0 when invalid.
func ParseMillis(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
