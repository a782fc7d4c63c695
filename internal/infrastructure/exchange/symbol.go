package exchange

import (
	"sort"
	"strings"

	"arbwatch/internal/domain/model"
)

// SymbolFormat renders a base/quote pair as a venue symbol.
type SymbolFormat func(base, quote string) string

var (
	Concat SymbolFormat = func(base, quote string) string { return base + quote }       // BTCUSDT
	Dashed SymbolFormat = func(base, quote string) string { return base + "-" + quote } // BTC-USDT
)

// SymbolMap converts between normalized pairs (BTC/USDT) and venue symbols.
type SymbolMap struct {
	toVenue map[string]string
	toPair  map[string]string
}

// NewSymbolMap maps every well-formed pair; malformed pairs are skipped.
func NewSymbolMap(pairs []string, format SymbolFormat) *SymbolMap {
	m := &SymbolMap{
		toVenue: make(map[string]string, len(pairs)),
		toPair:  make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		base, quote, ok := model.SplitPair(p)
		if !ok {
			continue
		}
		pair := base + "/" + quote
		sym := format(base, quote)
		m.toVenue[pair] = sym
		m.toPair[sym] = pair
	}
	return m
}

func (m *SymbolMap) Venue(pair string) (string, bool) {
	s, ok := m.toVenue[model.NormalizePair(pair)]
	return s, ok
}

// Pair resolves a venue symbol; case-insensitive.
func (m *SymbolMap) Pair(symbol string) (string, bool) {
	p, ok := m.toPair[strings.ToUpper(strings.TrimSpace(symbol))]
	return p, ok
}

// Symbols returns the venue symbols, sorted.
func (m *SymbolMap) Symbols() []string {
	out := make([]string, 0, len(m.toPair))
	for s := range m.toPair {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *SymbolMap) Len() int { return len(m.toPair) }
