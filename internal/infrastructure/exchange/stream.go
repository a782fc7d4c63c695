package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamMinBackoff = 500 * time.Millisecond
	streamMaxBackoff = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingEvery        = 25 * time.Second
)

// Stream keeps one WebSocket connection alive, reconnecting with doubling backoff.
type Stream struct {
	Name string
	URL  string
	// OnConnect runs after each successful dial, e.g. to send subscriptions.
	OnConnect func(conn *websocket.Conn) error
	OnMessage func(b []byte)
	// Heartbeat, when set, is sent as a text frame alongside each control ping.
	Heartbeat []byte
	// Connected is invoked with true after OnConnect succeeds and false on disconnect.
	Connected func(up bool)
}

// Run blocks until ctx is done.
func (s *Stream) Run(ctx context.Context) {
	backoff := streamMinBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		log.Info().Str("feed", s.Name).Str("url", s.URL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, s.URL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", s.Name).Err(err).Dur("retry_in", backoff).Msg("ws dial failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, streamMaxBackoff)
			continue
		}

		if s.OnConnect != nil {
			if err := s.OnConnect(conn); err != nil {
				log.Error().Str("feed", s.Name).Err(err).Msg("ws subscribe failed")
				_ = conn.Close()
				if !sleep(ctx, backoff) {
					return
				}
				backoff = minDur(backoff*2, streamMaxBackoff)
				continue
			}
		}

		backoff = streamMinBackoff
		s.setConnected(true)
		log.Info().Str("feed", s.Name).Msg("ws connected")

		err = readLoop(ctx, conn, s.OnMessage, s.Heartbeat)
		_ = conn.Close()
		s.setConnected(false)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("feed", s.Name).Err(err).Msg("ws disconnected, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, streamMaxBackoff)
	}
}

func (s *Stream) setConnected(up bool) {
	if s.Connected != nil {
		s.Connected(up)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte), heartbeat []byte) error {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(pingEvery)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if onMsg != nil {
				onMsg(b)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			if heartbeat != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
					return err
				}
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
