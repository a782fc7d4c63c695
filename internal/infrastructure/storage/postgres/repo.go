package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
	"arbwatch/internal/infrastructure/storage"
)

const (
	upsertQuoteSQL = `
INSERT INTO latest_quotes(exchange, pair, bid, ask, volume_24h, ts_ms, seq, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT(exchange, pair) DO UPDATE SET
bid=EXCLUDED.bid, ask=EXCLUDED.ask, volume_24h=EXCLUDED.volume_24h,
ts_ms=EXCLUDED.ts_ms, seq=EXCLUDED.seq, updated_at=EXCLUDED.updated_at
WHERE EXCLUDED.ts_ms >= latest_quotes.ts_ms`

	insertOpportunitySQL = `
INSERT INTO opportunities(id, seq, pair, buy_exchange, sell_exchange, buy_price, sell_price,
  spread_pct, net_spread_pct, volume_24h, detected_ms, expires_ms)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT(id) DO NOTHING`

	listOpportunitiesSQL = `SELECT ` + storage.OpportunityColumns + `
FROM opportunities WHERE detected_ms >= $1 ORDER BY detected_ms DESC, seq DESC LIMIT $2`
)

// Repo stores quotes and opportunities in postgres through the pgx database/sql driver.
// Decimal columns are NUMERIC; values travel as text.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_quotes (
  exchange TEXT NOT NULL,
  pair TEXT NOT NULL,
  bid NUMERIC NOT NULL,
  ask NUMERIC NOT NULL,
  volume_24h NUMERIC NOT NULL,
  ts_ms BIGINT NOT NULL,
  seq BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (exchange, pair)
);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  seq BIGINT NOT NULL,
  pair TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  buy_price NUMERIC NOT NULL,
  sell_price NUMERIC NOT NULL,
  spread_pct NUMERIC NOT NULL,
  net_spread_pct NUMERIC NOT NULL,
  volume_24h NUMERIC NOT NULL,
  detected_ms BIGINT NOT NULL,
  expires_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opps_detected ON opportunities(detected_ms);
CREATE INDEX IF NOT EXISTS idx_opps_pair ON opportunities(pair);
`)
	return err
}

func (r *Repo) UpsertLatestQuote(ctx context.Context, q *model.PriceQuote) error {
	_, err := r.db.ExecContext(ctx, upsertQuoteSQL, storage.QuoteArgs(q, r.now())...)
	return err
}

func (r *Repo) SaveOpportunity(ctx context.Context, e model.FeedEntry) error {
	_, err := r.db.ExecContext(ctx, insertOpportunitySQL, storage.OpportunityArgs(e)...)
	return err
}

func (r *Repo) ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error) {
	rows, err := r.db.QueryContext(ctx, listOpportunitiesSQL, since.UnixMilli(), storage.Limit(limit))
	if err != nil {
		return nil, err
	}
	return storage.ScanOpportunities(rows)
}

var _ port.Repository = (*Repo)(nil)
