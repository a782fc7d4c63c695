// Package storage holds row mapping shared by the database/sql repositories.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"arbwatch/internal/domain/model"

	"github.com/shopspring/decimal"
)

// OpportunityColumns is the select list matching ScanOpportunities.
const OpportunityColumns = `id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
spread_pct, net_spread_pct, volume_24h, detected_ms, expires_ms`

// OpportunityArgs returns insert arguments in table order, prefixed by seq.
// Decimals are stored as text to keep them exact.
func OpportunityArgs(e model.FeedEntry) []any {
	o := e.Opportunity
	return []any{
		o.ID, int64(e.Seq), o.Pair, o.BuyExchange, o.SellExchange,
		o.BuyPrice.String(), o.SellPrice.String(),
		o.SpreadPct.String(), o.NetSpreadPct.String(), o.Volume24h.String(),
		o.DetectedAt.UnixMilli(), o.ExpiresAt.UnixMilli(),
	}
}

// QuoteArgs returns upsert arguments for a latest-quote row.
func QuoteArgs(q *model.PriceQuote, now time.Time) []any {
	return []any{
		q.Exchange, q.Pair, q.Bid.String(), q.Ask.String(), q.Volume24h.String(),
		q.Timestamp.UnixMilli(), int64(q.Sequence), now.UnixMilli(),
	}
}

func ScanOpportunities(rows *sql.Rows) ([]model.Opportunity, error) {
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var (
			o                           model.Opportunity
			buy, sell, spread, net, vol string
			detectedMs, expiresMs       int64
		)
		if err := rows.Scan(&o.ID, &o.Pair, &o.BuyExchange, &o.SellExchange,
			&buy, &sell, &spread, &net, &vol, &detectedMs, &expiresMs); err != nil {
			return nil, err
		}
		var err error
		if o.BuyPrice, err = parseDec("buy_price", buy); err != nil {
			return nil, err
		}
		if o.SellPrice, err = parseDec("sell_price", sell); err != nil {
			return nil, err
		}
		if o.SpreadPct, err = parseDec("spread_pct", spread); err != nil {
			return nil, err
		}
		if o.NetSpreadPct, err = parseDec("net_spread_pct", net); err != nil {
			return nil, err
		}
		if o.Volume24h, err = parseDec("volume_24h", vol); err != nil {
			return nil, err
		}
		o.DetectedAt = time.UnixMilli(detectedMs)
		o.ExpiresAt = time.UnixMilli(expiresMs)
		out = append(out, o)
	}
	return out, rows.Err()
}

func parseDec(col, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", col, err)
	}
	return d, nil
}

// Limit clamps a caller-supplied row limit.
func Limit(n int) int {
	const max = 1000
	if n <= 0 || n > max {
		return max
	}
	return n
}
