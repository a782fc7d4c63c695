package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FrameDecoder turns one stream frame into ticker rows. Control frames
// (subscribe acks, pongs) return no rows and no error.
type FrameDecoder func(b []byte) ([]TickerRow, error)

// StreamSpec describes one venue's ticker stream.
type StreamSpec struct {
	Name    string
	URL     string
	Symbols *SymbolMap
	// Subscribe sends the venue's subscribe frames after each dial. Nil when
	// the subscription is encoded in the URL.
	Subscribe func(conn *websocket.Conn, symbols []string) error
	Decode    FrameDecoder
	Heartbeat []byte
}

// StreamAdapter keeps a venue stream open and serves the latest quote per
// pair from memory. Fetch fails while the connection is down.
type StreamAdapter struct {
	DropCounter
	spec    StreamSpec
	cache   *QuoteCache
	started atomic.Bool
	up      atomic.Bool
	now     func() time.Time
}

func NewStreamAdapter(spec StreamSpec) (*StreamAdapter, error) {
	if spec.Symbols == nil || spec.Symbols.Len() == 0 {
		return nil, fmt.Errorf("%s: no valid pairs", spec.Name)
	}
	if spec.URL == "" {
		return nil, fmt.Errorf("%s: ws url empty", spec.Name)
	}
	if spec.Decode == nil {
		return nil, fmt.Errorf("%s: stream decoder missing", spec.Name)
	}
	return &StreamAdapter{
		spec:  spec,
		cache: NewQuoteCache(),
		now:   time.Now,
	}, nil
}

func (a *StreamAdapter) Name() string { return a.spec.Name }

// URL is the endpoint the stream dials.
func (a *StreamAdapter) URL() string { return a.spec.URL }

// Start launches the background reader; it runs until ctx is done.
func (a *StreamAdapter) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s stream already started", a.spec.Name)
	}
	s := &Stream{
		Name:      a.spec.Name,
		URL:       a.spec.URL,
		OnMessage: a.handle,
		Heartbeat: a.spec.Heartbeat,
		Connected: a.up.Store,
	}
	if a.spec.Subscribe != nil {
		symbols := a.spec.Symbols.Symbols()
		s.OnConnect = func(conn *websocket.Conn) error {
			return a.spec.Subscribe(conn, symbols)
		}
	}
	go s.Run(ctx)
	return nil
}

func (a *StreamAdapter) Fetch(ctx context.Context) ([]model.PriceQuote, error) {
	if !a.up.Load() {
		return nil, port.NewFetchError(a.spec.Name, port.ErrNetwork, errors.New("stream disconnected"))
	}
	quotes := a.cache.List()
	if len(quotes) == 0 {
		return nil, port.NewFetchError(a.spec.Name, port.ErrNetwork, errors.New("stream has not delivered quotes yet"))
	}
	return quotes, nil
}

func (a *StreamAdapter) handle(b []byte) {
	rows, err := a.spec.Decode(b)
	if err != nil {
		log.Warn().Str("feed", a.spec.Name).Err(err).Msg("stream frame decode failed")
		a.Drop(1)
		return
	}
	now := a.now()
	for _, r := range rows {
		pair, ok := a.spec.Symbols.Pair(r.Symbol)
		if !ok {
			continue
		}
		q, err := ParseQuote(a.spec.Name, pair, r.Bid, r.Ask, r.Volume, MillisToTime(r.TsMs, now))
		if err != nil {
			a.Drop(1)
			continue
		}
		q.Sequence = r.Seq
		a.cache.Put(q)
	}
}

// WriteJSON sends one subscribe frame with a write deadline.
func WriteJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(v)
}

var (
	_ port.PriceAdapter = (*StreamAdapter)(nil)
	_ port.Starter      = (*StreamAdapter)(nil)
	_ port.DropCounter  = (*StreamAdapter)(nil)
)
