package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a cross-exchange spread: buy Pair on BuyExchange at its ask,
// sell on SellExchange at its bid. Created only by the detector, read-only after.
type Opportunity struct {
	ID           string          `json:"id"`
	Pair         string          `json:"pair"`
	BuyExchange  string          `json:"buy_exchange"`
	SellExchange string          `json:"sell_exchange"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	SpreadPct    decimal.Decimal `json:"spread_pct"`     // (sell-buy)/buy*100
	NetSpreadPct decimal.Decimal `json:"net_spread_pct"` // after taker fees and slippage
	Volume24h    decimal.Decimal `json:"volume_24h"`     // min of both legs
	DetectedAt   time.Time       `json:"detected_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether the opportunity is past its expiry at now.
func (o *Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// FeedEntry wraps an opportunity with its position in the feed.
type FeedEntry struct {
	Seq         uint64      `json:"seq"`
	Opportunity Opportunity `json:"opportunity"`
}
