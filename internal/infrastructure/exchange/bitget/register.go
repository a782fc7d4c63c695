package bitget

import (
	"arbwatch/internal/application/port"
	"arbwatch/internal/infrastructure/exchange"
)

// init() registers the bitget spot adapter factories
func init() {
	exchange.Register(Name, exchange.ByMode(
		func(s exchange.Settings) (port.PriceAdapter, error) { return New(s) },
		func(s exchange.Settings) (port.PriceAdapter, error) { return NewStreamAdapter(s) },
	))
}
