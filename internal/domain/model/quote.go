package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StoreKey identifies one price slot: a trading pair on one exchange.
type StoreKey struct {
	Exchange string `json:"exchange"`
	Pair     string `json:"pair"`
}

func (k StoreKey) String() string {
	return k.Exchange + ":" + k.Pair
}

// PriceQuote is a normalized best bid/ask for a pair on one exchange.
// Quotes are never mutated after creation; newer quotes supersede them.
type PriceQuote struct {
	Exchange  string          `json:"exchange"`
	Pair      string          `json:"pair"` // BASE/QUOTE, e.g. BTC/USDT
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume24h decimal.Decimal `json:"volume_24h"` // base volume, zero when the venue does not report it
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
}

func (q *PriceQuote) Key() StoreKey {
	return StoreKey{Exchange: q.Exchange, Pair: q.Pair}
}

// Age returns how old the quote is at now.
func (q *PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Valid reports whether the quote carries usable prices.
func (q *PriceQuote) Valid() bool {
	if q.Exchange == "" || q.Pair == "" || q.Timestamp.IsZero() {
		return false
	}
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return false
	}
	// crossed book
	return q.Bid.LessThanOrEqual(q.Ask)
}

// NormalizePair converts "btc-usdt", "BTC_USDT" or "btc/usdt" into "BTC/USDT".
// A pair without a separator is returned upper-cased as is.
func NormalizePair(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	p = strings.NewReplacer("-", "/", "_", "/", ":", "/").Replace(p)
	return p
}

// SplitPair returns base and quote of a normalized pair.
func SplitPair(p string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(NormalizePair(p), "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}
