package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

const streamMaxLen = 10_000

// Repo keeps latest quotes in a hash and publishes opportunities to a stream
// (history) and a pub/sub channel (live consumers).
type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyLatest    string // prefix + ":latest"
	signalStream string
	signalChan   string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, signalStream, signalChan string) *Repo {
	if strings.TrimSpace(signalStream) == "" {
		signalStream = prefix + ":opportunities"
	}
	if strings.TrimSpace(signalChan) == "" {
		signalChan = prefix + ":opportunities:pub"
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		signalStream: signalStream,
		signalChan:   signalChan,
	}
}

func latestField(q *model.PriceQuote) string {
	// "binance:BTC/USDT"
	return q.Key().String()
}

func (r *Repo) UpsertLatestQuote(ctx context.Context, q *model.PriceQuote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, latestField(q), string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func streamValues(e model.FeedEntry) (map[string]any, []byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, nil, err
	}
	o := e.Opportunity
	return map[string]any{
		"seq":         e.Seq,
		"id":          o.ID,
		"pair":        o.Pair,
		"spread_pct":  o.SpreadPct.String(),
		"detected_ms": o.DetectedAt.UnixMilli(),
		"payload":     string(payload),
	}, payload, nil
}

func (r *Repo) SaveOpportunity(ctx context.Context, e model.FeedEntry) error {
	values, payload, err := streamValues(e)
	if err != nil {
		return err
	}

	// 1) Stream: history, approximately capped
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.signalStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return err
	}

	// 2) PubSub: live fan-out
	return r.rdb.Publish(ctx, r.signalChan, payload).Err()
}

// ListOpportunities scans the stream newest-first until an entry older than since.
func (r *Repo) ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := r.rdb.XRevRangeN(ctx, r.signalStream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	return decodeStream(msgs, since)
}

func decodeStream(msgs []redis.XMessage, since time.Time) ([]model.Opportunity, error) {
	out := make([]model.Opportunity, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s: missing payload", m.ID)
		}
		var e model.FeedEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", m.ID, err)
		}
		if e.Opportunity.DetectedAt.Before(since) {
			break
		}
		out = append(out, e.Opportunity)
	}
	return out, nil
}

// Close is a no-op; the client is owned and closed by the service context.
func (r *Repo) Close() error { return nil }

var _ port.Repository = (*Repo)(nil)
