package runctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionMissing(t *testing.T) {
	_, err := ExecutionFrom(context.Background())
	assert.ErrorIs(t, err, ErrContextMissing)

	_, err = MethodFrom(context.Background())
	assert.ErrorIs(t, err, ErrContextMissing)
}

func TestExecutionRoundTrip(t *testing.T) {
	ctx := WithExecution(context.Background(), Execution{
		Symbol:   "BTCUSDT",
		When:     1700000000000,
		Backtest: true,
	})

	ec, err := ExecutionFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ec.Symbol)
	assert.Equal(t, int64(1700000000000), ec.When)
	assert.True(t, ec.Backtest)
}

func TestNestedFramesOverride(t *testing.T) {
	outer := WithExecution(context.Background(), Execution{Symbol: "BTCUSDT", When: 1000})
	inner := WithExecution(outer, Execution{Symbol: "BTCUSDT", When: 2000, Backtest: true})

	ec, err := ExecutionFrom(inner)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ec.When)

	// The outer frame is untouched.
	ec, err = ExecutionFrom(outer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ec.When)
	assert.False(t, ec.Backtest)
}

func TestMethodFrame(t *testing.T) {
	ctx := WithMethod(context.Background(), Method{StrategyName: "s", ExchangeName: "x"})
	m, err := MethodFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s", m.StrategyName)
	assert.Equal(t, "x", m.ExchangeName)
}
