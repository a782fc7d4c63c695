package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"arbwatch/internal/infrastructure/exchange"
)

type combinedMsg struct {
	Stream string        `json:"stream"`
	Data   bookTickerMsg `json:"data"`
}

type bookTickerMsg struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	Ask      string `json:"a"`
}

// NewStreamAdapter subscribes to <symbol>@bookTicker through a combined
// stream URL, so no subscribe frame is sent after dialing.
func NewStreamAdapter(s exchange.Settings) (*exchange.StreamAdapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("binance: no valid pairs")
	}
	base := s.WsURL
	if base == "" {
		base = DefaultWsURL
	}
	u, err := buildCombinedURL(base, symbols.Symbols())
	if err != nil {
		return nil, err
	}
	return exchange.NewStreamAdapter(exchange.StreamSpec{
		Name:    Name,
		URL:     u,
		Symbols: symbols,
		Decode:  decodeBookTicker,
	})
}

func decodeBookTicker(b []byte) ([]exchange.TickerRow, error) {
	var msg combinedMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	if msg.Data.Symbol == "" {
		return nil, nil
	}
	row := exchange.TickerRow{
		Symbol: msg.Data.Symbol,
		Bid:    msg.Data.Bid,
		Ask:    msg.Data.Ask,
	}
	if msg.Data.UpdateID > 0 {
		row.Seq = uint64(msg.Data.UpdateID)
	}
	return []exchange.TickerRow{row}, nil
}

func buildCombinedURL(base string, symbols []string) (string, error) {
	if len(symbols) == 0 {
		return "", errors.New("symbols empty")
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@bookTicker", strings.ToLower(s)))
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}
