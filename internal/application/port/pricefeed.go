package port

import (
	"context"

	"arbwatch/internal/domain/model"
)

// PriceAdapter produces normalized quotes for the pairs configured on one exchange.
// Implementations keep no state between calls beyond rate-limit bookkeeping
// (and, for streaming adapters, the latest streamed quotes).
type PriceAdapter interface {
	Name() string
	Fetch(ctx context.Context) ([]model.PriceQuote, error)
}

// Starter is implemented by adapters that need a background connection
// (streaming venues). The collector starts them before polling.
type Starter interface {
	Start(ctx context.Context) error
}

// DropCounter is implemented by adapters that discard malformed quotes.
// The collector reads and resets the count after each poll.
type DropCounter interface {
	TakeDropped() int64
}
