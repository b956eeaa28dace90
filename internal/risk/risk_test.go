package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/schema"
)

func TestPredicatesRunInOrder(t *testing.T) {
	var order []int
	s := schema.RiskSchema{
		Name: "ordered",
		Validations: []func(ctx context.Context, rc schema.RiskContext) error{
			func(ctx context.Context, rc schema.RiskContext) error {
				order = append(order, 1)
				return nil
			},
			func(ctx context.Context, rc schema.RiskContext) error {
				order = append(order, 2)
				return errors.New("too risky")
			},
			func(ctx context.Context, rc schema.RiskContext) error {
				order = append(order, 3)
				return nil
			},
		},
	}
	c := NewClient(s, zerolog.Nop())

	err := c.CheckSignal(context.Background(), schema.RiskContext{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, ErrRiskRejected)
	assert.Equal(t, []int{1, 2}, order, "rejection stops the chain")
}

func TestConcurrentPositionCap(t *testing.T) {
	c := NewClient(schema.RiskSchema{Name: "capped", MaxConcurrentPositions: 2}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.CheckSignal(ctx, schema.RiskContext{Symbol: "BTCUSDT"}))
	c.Acquire("BTCUSDT")
	require.NoError(t, c.CheckSignal(ctx, schema.RiskContext{Symbol: "ETHUSDT"}))
	c.Acquire("ETHUSDT")

	err := c.CheckSignal(ctx, schema.RiskContext{Symbol: "SOLUSDT"})
	assert.ErrorIs(t, err, ErrRiskRejected)

	// A symbol already holding its slot is not double-counted.
	assert.NoError(t, c.CheckSignal(ctx, schema.RiskContext{Symbol: "BTCUSDT"}))

	c.Release("ETHUSDT")
	assert.NoError(t, c.CheckSignal(ctx, schema.RiskContext{Symbol: "SOLUSDT"}))
	assert.Equal(t, 1, c.OpenPositions())
}

func TestZeroCapUnlimited(t *testing.T) {
	c := NewClient(schema.RiskSchema{Name: "open"}, zerolog.Nop())
	for _, sym := range []string{"A", "B", "C", "D"} {
		require.NoError(t, c.CheckSignal(context.Background(), schema.RiskContext{Symbol: sym}))
		c.Acquire(sym)
	}
	assert.Equal(t, 4, c.OpenPositions())
}
