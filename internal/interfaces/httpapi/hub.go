package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arbwatch/internal/domain/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	recentInStatus = 20
)

// Message types sent to clients.
const (
	TypeOpportunity  = "opportunity"
	TypeStatus       = "status"
	TypeSubscription = "subscription"
	TypePong         = "pong"
	TypeError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the wire format of every server message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientMessage is what clients send: ping, get_status, subscribe, unsubscribe.
type clientMessage struct {
	Type     string `json:"type"`
	Pair     string `json:"pair,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

type subscriptionData struct {
	Pairs     []string `json:"pairs"`
	Exchanges []string `json:"exchanges"`
}

type statusData struct {
	Statistics          any                   `json:"statistics"`
	RecentOpportunities []model.FeedEntry     `json:"recent_opportunities"`
	Collector           []model.AdapterStatus `json:"collector"`
	Config              statusConfig          `json:"config"`
	Clients             int                   `json:"clients"`
}

type statusConfig struct {
	ThresholdPct     string `json:"threshold_pct"`
	SlippagePct      string `json:"slippage_pct"`
	MaxQuoteAgeMs    int64  `json:"max_quote_age_ms"`
	OpportunityTTLMs int64  `json:"opportunity_ttl_ms"`
	FeedCapacity     int    `json:"feed_capacity"`
}

// Hub fans feed entries out to WebSocket clients, honoring per-client filters.
type Hub struct {
	src    Source
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	pairs     map[string]struct{}
	exchanges map[string]struct{}
}

func NewHub(src Source, logger zerolog.Logger) *Hub {
	return &Hub{
		src:     src,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run streams new feed entries to clients until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	f := h.src.Feed()
	entries := f.Subscribe(ctx, f.Latest())

	for e := range entries {
		msg, err := json.Marshal(Envelope{Type: TypeOpportunity, Data: e})
		if err != nil {
			h.logger.Error().Err(err).Msg("encode opportunity")
			continue
		}
		h.broadcast(e.Opportunity, msg)
	}

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(o model.Opportunity, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(o) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Msg("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		pairs:     make(map[string]struct{}),
		exchanges: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", total).Msg("ws client connected")

	h.deliver(c, Envelope{Type: TypeStatus, Data: h.status()})

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", total).Msg("ws client disconnected")
}

// deliver queues a direct reply. A client already removed is ignored.
func (h *Hub) deliver(c *client, env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("type", env.Type).Msg("encode ws message")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) status() statusData {
	f := h.src.Feed()
	recent := f.Snapshot()
	if len(recent) > recentInStatus {
		recent = recent[len(recent)-recentInStatus:]
	}
	cfg := h.src.Config()
	return statusData{
		Statistics:          f.Stats(),
		RecentOpportunities: recent,
		Collector:           h.src.Collector().Status(),
		Config: statusConfig{
			ThresholdPct:     cfg.Detector.ThresholdPct.String(),
			SlippagePct:      cfg.Detector.SlippagePct.String(),
			MaxQuoteAgeMs:    cfg.Detector.MaxQuoteAge.Milliseconds(),
			OpportunityTTLMs: cfg.Detector.OpportunityTTL.Milliseconds(),
			FeedCapacity:     cfg.Feed.Capacity,
		},
		Clients: h.ClientCount(),
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn().Err(err).Msg("ws unexpected close")
			}
			return
		}
		c.handle(raw)
	}
}

func (c *client) handle(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.hub.deliver(c, errorEnvelope("invalid JSON"))
		return
	}

	switch msg.Type {
	case "ping":
		c.hub.deliver(c, Envelope{Type: TypePong, Data: map[string]int64{"time": time.Now().UnixMilli()}})
	case "get_status":
		c.hub.deliver(c, Envelope{Type: TypeStatus, Data: c.hub.status()})
	case "subscribe", "unsubscribe":
		if msg.Pair == "" && msg.Exchange == "" && msg.Type == "subscribe" {
			c.hub.deliver(c, errorEnvelope("subscribe needs pair or exchange"))
			return
		}
		c.hub.deliver(c, Envelope{Type: TypeSubscription, Data: c.updateFilter(msg)})
	default:
		c.hub.deliver(c, errorEnvelope("unknown message type: "+msg.Type))
	}
}

func errorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Data: map[string]string{"message": msg}}
}

// updateFilter applies a subscribe or unsubscribe. An unsubscribe with
// neither field clears every filter.
func (c *client) updateFilter(msg clientMessage) subscriptionData {
	pair := model.NormalizePair(msg.Pair)
	exchange := strings.ToLower(strings.TrimSpace(msg.Exchange))

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Type == "subscribe" {
		if pair != "" {
			c.pairs[pair] = struct{}{}
		}
		if exchange != "" {
			c.exchanges[exchange] = struct{}{}
		}
	} else {
		if pair == "" && exchange == "" {
			clear(c.pairs)
			clear(c.exchanges)
		}
		delete(c.pairs, pair)
		delete(c.exchanges, exchange)
	}
	return subscriptionData{Pairs: sortedKeys(c.pairs), Exchanges: sortedKeys(c.exchanges)}
}

// matches reports whether o passes the client's filters. Empty filters match all.
func (c *client) matches(o model.Opportunity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.pairs) > 0 {
		if _, ok := c.pairs[o.Pair]; !ok {
			return false
		}
	}
	if len(c.exchanges) > 0 {
		_, buy := c.exchanges[o.BuyExchange]
		_, sell := c.exchanges[o.SellExchange]
		if !buy && !sell {
			return false
		}
	}
	return true
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
