package port

import (
	"context"
	"time"

	"arbwatch/internal/domain/model"
)

// Repository persists feed output. All methods are best-effort from the
// engine's point of view: errors are logged, never fatal.
type Repository interface {
	// Latest quote per (exchange, pair)
	UpsertLatestQuote(ctx context.Context, q *model.PriceQuote) error

	// Opportunity history
	SaveOpportunity(ctx context.Context, e model.FeedEntry) error
	ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error)

	Close() error
}
