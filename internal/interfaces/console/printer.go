// Package console prints newly detected opportunities to a terminal.
package console

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"arbwatch/internal/domain/model"
)

// Subscriber is the part of the feed the printer reads.
type Subscriber interface {
	Subscribe(ctx context.Context, afterSeq uint64) <-chan model.FeedEntry
	Latest() uint64
}

type Printer struct {
	out       io.Writer
	feed      Subscriber
	formatter *Formatter
	logger    zerolog.Logger
}

func NewPrinter(out io.Writer, feed Subscriber, formatter *Formatter, logger zerolog.Logger) *Printer {
	return &Printer{
		out:       out,
		feed:      feed,
		formatter: formatter,
		logger:    logger.With().Str("component", "console").Logger(),
	}
}

// Run prints every entry appended after the call until ctx is done.
func (p *Printer) Run(ctx context.Context) error {
	for e := range p.feed.Subscribe(ctx, p.feed.Latest()) {
		if _, err := fmt.Fprintln(p.out, p.formatter.Render(e)); err != nil {
			p.logger.Warn().Err(err).Msg("console write failed")
		}
	}
	return nil
}
