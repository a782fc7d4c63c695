package console

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"arbwatch/internal/domain/model"
	dsvc "arbwatch/internal/domain/service"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

type Formatter struct {
	Threshold decimal.Decimal
	Color     bool
}

func NewFormatter(threshold decimal.Decimal, color bool) *Formatter {
	return &Formatter{Threshold: threshold, Color: color}
}

func (f *Formatter) colorize(s, c string) string {
	if !f.Color {
		return s
	}
	return c + s + ansiReset
}

// Render formats one feed entry as a single line, e.g.
//
//	[ARB] 15:04:05 #12 BTC/USDT buy binance@100.00 -> sell okx@103.00 spread=+3.00% net=+2.80%
func (f *Formatter) Render(e model.FeedEntry) string {
	o := e.Opportunity

	col := ansiYellow
	switch dsvc.SpreadBand(o.NetSpreadPct, f.Threshold) {
	case +1:
		col = ansiGreen
	case -1:
		col = ansiRed
	}

	var sb strings.Builder
	sb.WriteString(f.colorize("[ARB] ", ansiDim))
	sb.WriteString(o.DetectedAt.Local().Format("15:04:05"))
	sb.WriteString(" #")
	sb.WriteString(strconv.FormatUint(e.Seq, 10))
	sb.WriteString(" ")
	sb.WriteString(o.Pair)
	sb.WriteString(" buy ")
	sb.WriteString(o.BuyExchange + "@" + price(o.BuyPrice))
	sb.WriteString(" -> sell ")
	sb.WriteString(o.SellExchange + "@" + price(o.SellPrice))
	sb.WriteString(" ")
	sb.WriteString(f.colorize("spread="+pct(o.SpreadPct), col))
	sb.WriteString(" ")
	sb.WriteString(f.colorize("net="+pct(o.NetSpreadPct), col))
	if o.Volume24h.IsPositive() {
		sb.WriteString(f.colorize(" vol24h="+o.Volume24h.StringFixed(2), ansiDim))
	}
	return sb.String()
}

// price keeps at least two decimals and trims sub-cent noise only for large prices.
func price(d decimal.Decimal) string {
	if d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return d.StringFixed(2)
	}
	return d.String()
}

func pct(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !d.IsNegative() {
		s = "+" + s
	}
	return s + "%"
}
