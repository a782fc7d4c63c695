// Package httpapi exposes the engine over HTTP: price snapshot, feed pull,
// persisted history, feed statistics, collector status and a WebSocket
// opportunity stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/application/collector"
	"arbwatch/internal/application/engine"
	"arbwatch/internal/application/feed"
	"arbwatch/internal/domain/model"
)

// Source is the engine surface the bridge reads from.
type Source interface {
	Snapshot() engine.PriceSnapshot
	Feed() *feed.Feed
	Collector() *collector.Collector
	Config() engine.Config
}

// History reads persisted opportunities. Satisfied by port.Repository.
type History interface {
	ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error)
}

type Server struct {
	httpServer *http.Server
	hub        *Hub
	src        Source
	history    History
	logger     zerolog.Logger
	startedAt  time.Time
}

// New builds the server. history may be nil when no storage backend is
// enabled; the history route then answers 404.
func New(addr string, src Source, history History, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "httpapi").Logger()
	s := &Server{
		src:       src,
		history:   history,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	s.hub = NewHub(src, logger)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/opportunities", s.handleOpportunities)
	mux.HandleFunc("GET /api/opportunities/history", s.handleHistory)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/collector", s.handleCollector)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)
	return requestLogger(s.logger)(mux)
}

func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for /ws.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
