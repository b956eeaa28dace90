package exchange

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPriceFloorsToTick(t *testing.T) {
	s := flatFeed(42000)
	s.PriceTick = map[string]string{"BTCUSDT": "0.01"}
	s.QuantityStep = map[string]string{"BTCUSDT": "0.001"}
	c := NewClient(s, testConfig(), zerolog.Nop())

	got, err := c.FormatPrice("BTCUSDT", 42000.12999)
	require.NoError(t, err)
	assert.Equal(t, "42000.12", got)

	got, err = c.FormatQuantity("BTCUSDT", 0.0019)
	require.NoError(t, err)
	assert.Equal(t, "0.001", got)
}

func TestFormatWithoutTickPassesThrough(t *testing.T) {
	c := NewClient(flatFeed(42000), testConfig(), zerolog.Nop())
	got, err := c.FormatPrice("BTCUSDT", 42000.5)
	require.NoError(t, err)
	assert.Equal(t, "42000.5", got)
}

func TestFormatSchemaOverride(t *testing.T) {
	s := flatFeed(42000)
	s.FormatPrice = func(symbol string, price float64) (string, error) {
		return "custom", nil
	}
	c := NewClient(s, testConfig(), zerolog.Nop())

	got, err := c.FormatPrice("BTCUSDT", 1)
	require.NoError(t, err)
	assert.Equal(t, "custom", got)
}
