package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
	"arbwatch/internal/infrastructure/exchange"
)

const (
	Name           = "binance"
	DefaultRestURL = "https://api.binance.com"
	DefaultWsURL   = "wss://stream.binance.com:9443"
)

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// RESTAdapter polls /api/v3/ticker/bookTicker for the configured symbols.
type RESTAdapter struct {
	exchange.DropCounter
	rest    *exchange.RESTClient
	symbols *exchange.SymbolMap
	now     func() time.Time
}

func NewRESTAdapter(s exchange.Settings) (*RESTAdapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("binance: no valid pairs")
	}
	base := s.RestURL
	if base == "" {
		base = DefaultRestURL
	}
	return &RESTAdapter{
		rest:    exchange.NewRESTClient(Name, base, s.HTTPClient, s.RateLimitRPS),
		symbols: symbols,
		now:     time.Now,
	}, nil
}

func (a *RESTAdapter) Name() string { return Name }

func (a *RESTAdapter) Fetch(ctx context.Context) ([]model.PriceQuote, error) {
	list, _ := json.Marshal(a.symbols.Symbols())
	var resp []bookTicker
	if err := a.rest.GetJSON(ctx, "/api/v3/ticker/bookTicker", url.Values{"symbols": {string(list)}}, &resp); err != nil {
		return nil, err
	}

	rows := make([]exchange.TickerRow, 0, len(resp))
	for _, t := range resp {
		rows = append(rows, exchange.TickerRow{Symbol: t.Symbol, Bid: t.BidPrice, Ask: t.AskPrice})
	}
	return exchange.BuildQuotes(Name, a.symbols, rows, a.now(), &a.DropCounter), nil
}

var _ port.PriceAdapter = (*RESTAdapter)(nil)
