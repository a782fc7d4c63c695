package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arbwatch/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
)

const (
	DefaultWsURL = "wss://stream.bybit.com/v5/public/spot"

	// spot connections accept at most 10 args per subscribe request
	maxSubscribeArgs = 10
)

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type orderbookMsg struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Ts      int64  `json:"ts"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
	Data    struct {
		Symbol   string      `json:"s"`
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		UpdateID int64       `json:"u"`
	} `json:"data"`
}

// NewStreamAdapter subscribes to the level-1 order book per symbol, which
// carries best bid and ask (the spot tickers topic does not).
func NewStreamAdapter(s exchange.Settings) (*exchange.StreamAdapter, error) {
	symbols := exchange.NewSymbolMap(s.Pairs, exchange.Concat)
	if symbols.Len() == 0 {
		return nil, errors.New("bybit: no valid pairs")
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
		Decode:    decodeOrderbook,
		Heartbeat: []byte(`{"op":"ping"}`),
	})
}

func subscribe(conn *websocket.Conn, symbols []string) error {
	for start := 0; start < len(symbols); start += maxSubscribeArgs {
		end := min(start+maxSubscribeArgs, len(symbols))
		req := subReq{Op: "subscribe", Args: make([]string, 0, end-start)}
		for _, s := range symbols[start:end] {
			req.Args = append(req.Args, "orderbook.1."+s)
		}
		if err := exchange.WriteJSON(conn, req); err != nil {
			return err
		}
	}
	return nil
}

func decodeOrderbook(b []byte) ([]exchange.TickerRow, error) {
	var msg orderbookMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	if msg.Success != nil {
		if !*msg.Success {
			return nil, fmt.Errorf("bybit ws %s failed: %s", msg.Op, msg.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") {
		return nil, nil
	}
	// deltas may touch one side only
	if len(msg.Data.Bids) == 0 || len(msg.Data.Asks) == 0 {
		return nil, nil
	}
	row := exchange.TickerRow{
		Symbol: msg.Data.Symbol,
		Bid:    msg.Data.Bids[0][0],
		Ask:    msg.Data.Asks[0][0],
		TsMs:   msg.Ts,
	}
	if msg.Data.UpdateID > 0 {
		row.Seq = uint64(msg.Data.UpdateID)
	}
	return []exchange.TickerRow{row}, nil
}
