package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/application/feed"
	"arbwatch/internal/domain/model"
)

func entry(seq uint64, net string) model.FeedEntry {
	return model.FeedEntry{
		Seq: seq,
		Opportunity: model.Opportunity{
			Pair:         "BTC/USDT",
			BuyExchange:  "binance",
			SellExchange: "okx",
			BuyPrice:     decimal.NewFromInt(100),
			SellPrice:    decimal.NewFromInt(103),
			SpreadPct:    decimal.NewFromInt(3),
			NetSpreadPct: decimal.RequireFromString(net),
			DetectedAt:   time.Now(),
			ExpiresAt:    time.Now().Add(time.Minute),
		},
	}
}

func TestRenderPlain(t *testing.T) {
	f := NewFormatter(decimal.NewFromFloat(0.5), false)
	line := f.Render(entry(12, "2.8"))

	for _, want := range []string{"[ARB]", "#12", "BTC/USDT", "buy binance@100.00", "sell okx@103.00", "spread=+3.00%", "net=+2.80%"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\033[") {
		t.Errorf("plain output has escape codes: %q", line)
	}
}

func TestRenderColorByBand(t *testing.T) {
	f := NewFormatter(decimal.NewFromInt(1), true)

	tests := []struct {
		net  string
		want string
	}{
		{"2.5", ansiGreen},
		{"1.5", ansiYellow},
		{"0.5", ansiRed},
	}
	for _, tt := range tests {
		if line := f.Render(entry(1, tt.net)); !strings.Contains(line, tt.want+"net=") {
			t.Errorf("net %s: want color %q in %q", tt.net, tt.want, line)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPrinterPrintsOnlyNewEntries(t *testing.T) {
	fd := feed.New(feed.Config{Capacity: 10}, zerolog.Nop())
	old := entry(0, "1").Opportunity
	old.Pair = "OLD/USDT"
	fd.Append(old)

	var out syncBuffer
	p := NewPrinter(&out, fd, NewFormatter(decimal.NewFromFloat(0.5), false), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	fd.Append(entry(0, "1").Opportunity)

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "BTC/USDT") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := out.String()
	if !strings.Contains(got, "#2 BTC/USDT") {
		t.Errorf("output %q missing new entry", got)
	}
	if strings.Contains(got, "OLD/USDT") {
		t.Errorf("output %q contains entry appended before Run", got)
	}
}
