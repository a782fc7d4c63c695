package bitget

import (
	"encoding/json"
	"errors"
	"fmt"

	"arbwatch/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
)

const DefaultWsURL = "wss://ws.bitget.com/v2/ws/public"

type subArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

type tickerMsg struct {
	Event  string `json:"event"`
	Code   any    `json:"code"`
	Msg    string `json:"msg"`
	Action string `json:"action"`
	Arg    subArg `json:"arg"`
	Data   []struct {
		InstID     string `json:"instId"`
		BidPr      string `json:"bidPr"`
		AskPr      string `json:"askPr"`
		BaseVolume string `json:"baseVolume"`
		Ts         string `json:"ts"`
	} `json:"data"`
}

// NewStreamAdapter subscribes to the v2 SPOT ticker channel.
func NewStreamAdapter(s exchange.Settings) (*exchange.StreamAdapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("bitget: no valid pairs")
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
		req.Args = append(req.Args, subArg{InstType: "SPOT", Channel: "ticker", InstID: s})
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
		return nil, fmt.Errorf("bitget ws error %v: %s", msg.Code, msg.Msg)
	}
	rows := make([]exchange.TickerRow, 0, len(msg.Data))
	for _, d := range msg.Data {
		rows = append(rows, exchange.TickerRow{
			Symbol: d.InstID,
			Bid:    d.BidPr,
			Ask:    d.AskPr,
			Volume: d.BaseVolume,
			TsMs:   exchange.ParseMillis(d.Ts),
		})
	}
	return rows, nil
}
