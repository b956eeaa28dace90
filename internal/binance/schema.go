package binance

import (
	"context"

	"github.com/rs/zerolog"

	"signal-engine/internal/schema"
)

// Options configures the exchange schema constructor.
type Options struct {
	BaseURL   string
	StreamURL string

	// Symbols to subscribe on the kline stream. Empty disables the stream
	// and the average-price override.
	StreamSymbols []string

	Logger zerolog.Logger

	// Decimal tick/step tables for the default formatters, e.g.
	// {"BTCUSDT": "0.01"}.
	PriceTick    map[string]string
	QuantityStep map[string]string
}

// ExchangeSchema builds the registered schema. When streaming is enabled the
// returned stream must be started with Run; the average-price override then
// prefers the cached stream price and falls back to the REST ticker.
func ExchangeSchema(name string, opts Options) (schema.ExchangeSchema, *Stream) {
	client := NewClient(opts.BaseURL)

	s := schema.ExchangeSchema{
		Name:         name,
		GetCandles:   client.GetCandles,
		PriceTick:    opts.PriceTick,
		QuantityStep: opts.QuantityStep,
	}

	var stream *Stream
	if len(opts.StreamSymbols) > 0 {
		stream = NewStream(opts.StreamURL, opts.StreamSymbols, "1m", opts.Logger)
		s.GetAveragePrice = func(ctx context.Context, symbol string) (float64, error) {
			if price, ok := stream.LastPrice(symbol); ok {
				return price, nil
			}
			return client.GetPrice(ctx, symbol)
		}
	}
	return s, stream
}
