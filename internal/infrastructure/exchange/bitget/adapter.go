package bitget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
	"arbwatch/internal/infrastructure/exchange"
)

const (
	Name           = "bitget"
	DefaultRestURL = "https://api.bitget.com"

	codeOK = "00000"
)

type tickersResp struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol     string `json:"symbol"`
		BidPr      string `json:"bidPr"`
		AskPr      string `json:"askPr"`
		BaseVolume string `json:"baseVolume"`
		Ts         string `json:"ts"`
	} `json:"data"`
}

type Adapter struct {
	exchange.DropCounter
	rest    *exchange.RESTClient
	symbols *exchange.SymbolMap
	now     func() time.Time
}

func New(s exchange.Settings) (*Adapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("bitget: no valid pairs")
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
	if err := a.rest.GetJSON(ctx, "/api/v2/spot/market/tickers", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != codeOK {
		return nil, port.NewFetchError(Name, port.ErrMalformedResponse, fmt.Errorf("code %s: %s", resp.Code, resp.Msg))
	}

	rows := make([]exchange.TickerRow, 0, len(resp.Data))
	for _, t := range resp.Data {
		rows = append(rows, exchange.TickerRow{
			Symbol: t.Symbol,
			Bid:    t.BidPr,
			Ask:    t.AskPr,
			Volume: t.BaseVolume,
			TsMs:   exchange.ParseMillis(t.Ts),
		})
	}
	return exchange.BuildQuotes(Name, a.symbols, rows, a.now(), &a.DropCounter), nil
}

var _ port.PriceAdapter = (*Adapter)(nil)
