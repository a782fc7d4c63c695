package exchange

import (
	"fmt"
	"net/http"
	"sort"

	"arbwatch/internal/application/port"

	"github.com/rs/zerolog/log"
)

// Settings is what a venue factory needs to build an adapter.
type Settings struct {
	Name         string
	Mode         string // rest | stream
	RestURL      string // empty = venue default
	WsURL        string
	Pairs        []string
	RateLimitRPS float64
	HTTPClient   *http.Client
}

type Factory func(s Settings) (port.PriceAdapter, error)

const (
	ModeREST   = "rest"
	ModeStream = "stream"
)

// ByMode picks the rest or stream factory from Settings.Mode; empty means rest.
func ByMode(rest, stream Factory) Factory {
	return func(s Settings) (port.PriceAdapter, error) {
		switch s.Mode {
		case "", ModeREST:
			return rest(s)
		case ModeStream:
			return stream(s)
		default:
			return nil, fmt.Errorf("%s: unsupported mode %q", s.Name, s.Mode)
		}
	}
}

var registry = make(map[string]Factory)

// Register is called from each venue package's init().
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", name).Msg("invalid adapter factory")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("exchange", name).Msg("adapter factory already registered, overwriting")
	}
	registry[name] = factory
}

func Get(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names lists registered venues, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
