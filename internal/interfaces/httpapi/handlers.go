package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"arbwatch/internal/application/engine"
	"arbwatch/internal/domain/model"
)

const (
	defaultLimit   = 100
	maxLimit       = 1000
	historyTimeout = 5 * time.Second
)

type opportunitiesResponse struct {
	Entries   []model.FeedEntry `json:"entries"`
	LatestSeq uint64            `json:"latest_seq"`
}

type historyResponse struct {
	Opportunities []model.Opportunity `json:"opportunities"`
	Count         int                 `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"adapters":       s.src.Collector().Len(),
	})
}

// handlePrices returns the store snapshot, optionally narrowed by ?pair= or ?exchange=.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()

	pair := model.NormalizePair(r.URL.Query().Get("pair"))
	exchange := r.URL.Query().Get("exchange")
	if pair != "" || exchange != "" {
		filtered := make([]engine.PriceView, 0, len(snap.Prices))
		for _, p := range snap.Prices {
			if pair != "" && p.Pair != pair {
				continue
			}
			if exchange != "" && p.Exchange != exchange {
				continue
			}
			filtered = append(filtered, p)
		}
		snap.Prices = filtered
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleOpportunities serves live feed entries with seq > since.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since uint64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := s.src.Feed()
	entries := f.Since(since, limit)
	if entries == nil {
		entries = []model.FeedEntry{}
	}
	writeJSON(w, http.StatusOK, opportunitiesResponse{
		Entries:   entries,
		LatestSeq: f.Latest(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Feed().Stats())
}

func (s *Server) handleCollector(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Collector().Status())
}

// handleHistory serves persisted opportunities detected at or after ?since=
// (RFC 3339 or epoch milliseconds), newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "opportunity history needs a storage backend")
		return
	}
	q := r.URL.Query()

	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := parseSince(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339 or epoch milliseconds")
			return
		}
		since = t
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()
	opps, err := s.history.ListOpportunities(ctx, since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("opportunity history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Opportunities: opps, Count: len(opps)})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

func parseSince(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return time.Time{}, errors.New("negative timestamp")
		}
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, v)
}
