package pricestore

import (
	"sort"
	"sync"
	"time"

	"arbwatch/internal/domain/model"
)

// Store holds the latest quote per (exchange, pair).
// A write for a key only lands when its timestamp is strictly newer than the
// stored quote; late arrivals are dropped.
type Store struct {
	mu      sync.RWMutex
	quotes  map[model.StoreKey]*model.PriceQuote
	version uint64
}

func New() *Store {
	return &Store{quotes: make(map[model.StoreKey]*model.PriceQuote)}
}

// Put stores q and reports whether it replaced the current quote.
func (s *Store) Put(q model.PriceQuote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(q)
}

// PutBatch applies quotes in order and returns how many landed.
// Each key is updated atomically; there is no cross-key transaction.
func (s *Store) PutBatch(qs []model.PriceQuote) int {
	if len(qs) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, q := range qs {
		if s.putLocked(q) {
			n++
		}
	}
	return n
}

func (s *Store) putLocked(q model.PriceQuote) bool {
	k := q.Key()
	if cur, ok := s.quotes[k]; ok && !q.Timestamp.After(cur.Timestamp) {
		return false
	}
	cp := q
	s.quotes[k] = &cp
	s.version++
	return true
}

// Get returns a copy of the current quote for key.
func (s *Store) Get(key model.StoreKey) (model.PriceQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[key]
	if !ok {
		return model.PriceQuote{}, false
	}
	return *q, true
}

// Snapshot returns a point-in-time view of all quotes.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.StoreKey]*model.PriceQuote, len(s.quotes))
	for k, q := range s.quotes {
		out[k] = q // quotes are immutable
	}
	return Snapshot{Quotes: out, Version: s.version, TakenAt: time.Now()}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// Version increases by one for each applied write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot is a read-only copy of the store. Quote pointers must not be mutated.
type Snapshot struct {
	Quotes  map[model.StoreKey]*model.PriceQuote
	Version uint64
	TakenAt time.Time
}

// ByPair groups the snapshot's quotes by trading pair, each group sorted by exchange.
func (s Snapshot) ByPair() map[string][]*model.PriceQuote {
	out := make(map[string][]*model.PriceQuote)
	for _, q := range s.Quotes {
		out[q.Pair] = append(out[q.Pair], q)
	}
	for _, qs := range out {
		sort.Slice(qs, func(i, j int) bool { return qs[i].Exchange < qs[j].Exchange })
	}
	return out
}

// List returns all quotes sorted by pair then exchange.
func (s Snapshot) List() []model.PriceQuote {
	out := make([]model.PriceQuote, 0, len(s.Quotes))
	for _, q := range s.Quotes {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}
