package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
	"arbwatch/internal/infrastructure/exchange"
)

const (
	Name           = "bybit"
	DefaultRestURL = "https://api.bybit.com"
)

type tickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

// Adapter polls the v5 spot tickers endpoint.
type Adapter struct {
	exchange.DropCounter
	rest    *exchange.RESTClient
	symbols *exchange.SymbolMap
	now     func() time.Time
}

func New(s exchange.Settings) (*Adapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("bybit: no valid pairs")
	}
	base := s.RestURL
	if base == "" {
		base = DefaultRestURL
	}
	return &Adapter{
		rest:    exchange.NewRESTClient(Name, base, s.HTTPClient, s.RateLimitRPS),
		symbols: symbols,
		now:     time.Now,
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Fetch(ctx context.Context) ([]model.PriceQuote, error) {
	var resp tickersResp
	if err := a.rest.GetJSON(ctx, "/v5/market/tickers", url.Values{"category": {"spot"}}, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, port.NewFetchError(Name, port.ErrMalformedResponse, fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}

	rows := make([]exchange.TickerRow, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		rows = append(rows, exchange.TickerRow{
			Symbol: t.Symbol,
			Bid:    t.Bid1Price,
			Ask:    t.Ask1Price,
			Volume: t.Volume24h,
			TsMs:   resp.Time,
		})
	}
	return exchange.BuildQuotes(Name, a.symbols, rows, a.now(), &a.DropCounter), nil
}

var _ port.PriceAdapter = (*Adapter)(nil)
