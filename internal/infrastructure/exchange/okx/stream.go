package okx

import (
	"encoding/json"
	"errors"
	"fmt"

	"arbwatch/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
)

const DefaultWsURL = "wss://ws.okx.com:8443/ws/v5/public"

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

type tickerMsg struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   subArg `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		Vol24h string `json:"vol24h"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// NewStreamAdapter subscribes to the public tickers channel per instrument.
func NewStreamAdapter(s exchange.Settings) (*exchange.StreamAdapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Dashed)
	if symbols.Len() == 0 {
		return nil, errors.New("okx: no valid pairs")
	}
	u := s.WsURL
	if u == "" {
		u = DefaultWsURL
	}
	return exchange.NewStreamAdapter(exchange.StreamSpec{
		Name:      Name,
		URL:       u,
		Symbols:   symbols,
		Subscribe: subscribe,
		Decode:    decodeTickers,
		Heartbeat: []byte("ping"),
	})
}

func subscribe(conn *websocket.Conn, symbols []string) error {
	req := subReq{Op: "subscribe", Args: make([]subArg, 0, len(symbols))}
	for _, s := range symbols {
		req.Args = append(req.Args, subArg{Channel: "tickers", InstID: s})
	}
	return exchange.WriteJSON(conn, req)
}

func decodeTickers(b []byte) ([]exchange.TickerRow, error) {
	if string(b) == "pong" {
		return nil, nil
	}
	var msg tickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	if msg.Event == "error" {
		return nil, fmt.Errorf("okx ws error %s: %s", msg.Code, msg.Msg)
	}
	rows := make([]exchange.TickerRow, 0, len(msg.Data))
	for _, d := range msg.Data {
		rows = append(rows, exchange.TickerRow{
			Symbol: d.InstID,
			Bid:    d.BidPx,
			Ask:    d.AskPx,
			Volume: d.Vol24h,
			TsMs:   exchange.ParseMillis(d.Ts),
		})
	}
	return rows, nil
}
