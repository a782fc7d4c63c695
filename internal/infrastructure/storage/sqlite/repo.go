package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
	"arbwatch/internal/infrastructure/storage"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  bid TEXT NOT NULL,
  ask TEXT NOT NULL,
  volume_24h TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (exchange, pair)
);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  seq INTEGER NOT NULL,
  pair TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  buy_price TEXT NOT NULL,
  sell_price TEXT NOT NULL,
  spread_pct TEXT NOT NULL,
  net_spread_pct TEXT NOT NULL,
  volume_24h TEXT NOT NULL,
  detected_ms INTEGER NOT NULL,
  expires_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opps_detected ON opportunities(detected_ms);
CREATE INDEX IF NOT EXISTS idx_opps_pair ON opportunities(pair);
`)
	return err
}

// UpsertLatestQuote keeps one row per (exchange, pair); older timestamps never overwrite newer ones.
func (r *Repo) UpsertLatestQuote(ctx context.Context, q *model.PriceQuote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_quotes(exchange, pair, bid, ask, volume_24h, ts_ms, seq, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, pair) DO UPDATE SET
		bid=excluded.bid, ask=excluded.ask, volume_24h=excluded.volume_24h,
		ts_ms=excluded.ts_ms, seq=excluded.seq, updated_at=excluded.updated_at
		WHERE excluded.ts_ms >= latest_quotes.ts_ms
	`, storage.QuoteArgs(q, r.now())...)
	return err
}

func (r *Repo) SaveOpportunity(ctx context.Context, e model.FeedEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO opportunities(id, seq, pair, buy_exchange, sell_exchange, buy_price, sell_price,
		  spread_pct, net_spread_pct, volume_24h, detected_ms, expires_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, storage.OpportunityArgs(e)...)
	return err
}

// ListOpportunities returns opportunities detected at or after since, newest first.
func (r *Repo) ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+storage.OpportunityColumns+`
		FROM opportunities WHERE detected_ms >= ? ORDER BY detected_ms DESC, seq DESC LIMIT ?`,
		since.UnixMilli(), storage.Limit(limit))
	if err != nil {
		return nil, err
	}
	return storage.ScanOpportunities(rows)
}

var _ port.Repository = (*Repo)(nil)
