package okx

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
	Name           = "okx"
	DefaultRestURL = "https://www.okx.com"
)

type tickersResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		Vol24h string `json:"vol24h"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// Adapter polls /api/v5/market/tickers for SPOT instruments (BTC-USDT style ids).
type Adapter struct {
	exchange.DropCounter
	rest    *exchange.RESTClient
	symbols *exchange.SymbolMap
	now     func() time.Time
}

func New(s exchange.Settings) (*Adapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Dashed)
	if symbols.Len() == 0 {
		return nil, errors.New("okx: no valid pairs")
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
	if err := a.rest.GetJSON(ctx, "/api/v5/market/tickers", url.Values{"instType": {"SPOT"}}, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, port.NewFetchError(Name, port.ErrMalformedResponse, fmt.Errorf("code %s: %s", resp.Code, resp.Msg))
	}

	rows := make([]exchange.TickerRow, 0, len(resp.Data))
	for _, t := range resp.Data {
		rows = append(rows, exchange.TickerRow{
			Symbol: t.InstID,
			Bid:    t.BidPx,
			Ask:    t.AskPx,
			Volume: t.Vol24h,
			TsMs:   exchange.ParseMillis(t.Ts),
		})
	}
	return exchange.BuildQuotes(Name, a.symbols, rows, a.now(), &a.DropCounter), nil
}

var _ port.PriceAdapter = (*Adapter)(nil)
