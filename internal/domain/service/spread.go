package service

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SpreadPct returns (sell-buy)/buy in percent. Zero when buy is not positive.
func SpreadPct(buy, sell decimal.Decimal) decimal.Decimal {
	if !buy.IsPositive() {
		return decimal.Zero
	}
	return sell.Sub(buy).Div(buy).Mul(hundred)
}

// NetSpreadPct deducts both legs' taker fees and the slippage allowance (all in percent).
func NetSpreadPct(spreadPct, buyFeePct, sellFeePct, slippagePct decimal.Decimal) decimal.Decimal {
	return spreadPct.Sub(buyFeePct).Sub(sellFeePct).Sub(slippagePct)
}

// Fresh reports whether a quote stamped at ts is still usable at now.
// An age exactly equal to maxAge counts as stale.
func Fresh(ts, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(ts) < maxAge
}

// SpreadBand classifies a spread against the threshold: -1 at or below it,
// +1 at twice the threshold or more, 0 in between.
func SpreadBand(spreadPct, thresholdPct decimal.Decimal) int {
	switch {
	case !spreadPct.GreaterThan(thresholdPct):
		return -1
	case spreadPct.GreaterThanOrEqual(thresholdPct.Mul(decimal.NewFromInt(2))):
		return +1
	default:
		return 0
	}
}
