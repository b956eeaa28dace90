package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
)

func testStrategy(name string) StrategySchema {
	return StrategySchema{
		Name:     name,
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			return nil, nil
		},
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddStrategy(testStrategy("s1")))

	err := r.AddStrategy(testStrategy("s1"))
	assert.ErrorIs(t, err, ErrDuplicateSchema)
}

func TestGetMissingFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetStrategy("ghost")
	assert.ErrorIs(t, err, ErrSchemaMissing)

	err = r.OverrideStrategy("ghost", StrategySchema{Interval: "5m"})
	assert.ErrorIs(t, err, ErrSchemaMissing)
}

func TestOverrideMergesPartial(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddStrategy(testStrategy("s1")))

	require.NoError(t, r.OverrideStrategy("s1", StrategySchema{
		Interval: "15m",
		RiskName: "strict",
	}))

	s, err := r.GetStrategy("s1")
	require.NoError(t, err)
	assert.Equal(t, "15m", s.Interval)
	assert.Equal(t, "strict", s.RiskName)
	assert.NotNil(t, s.GetSignal, "untouched fields survive an override")
}

func TestValidateRejectsIncompleteSchemas(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.AddStrategy(StrategySchema{Name: "no-signal"}))
	assert.Error(t, r.AddExchange(ExchangeSchema{Name: "no-candles"}))
	assert.Error(t, r.AddFrame(FrameSchema{Name: "f", StartMs: 10, EndMs: 5, Interval: "1m"}))
	assert.Error(t, r.AddWalker(WalkerSchema{
		Name:         "w",
		Strategies:   []string{"a"},
		ExchangeName: "x",
		FrameName:    "f",
		Metric:       "luck",
	}))
	assert.Error(t, r.AddRisk(RiskSchema{Name: "r", MaxConcurrentPositions: -1}))
}

func TestFrameTimeframesGenerated(t *testing.T) {
	f := FrameSchema{Name: "f", StartMs: 0, EndMs: 5 * model.MinuteMs, Interval: "1m"}
	frames, err := f.Timeframes(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 6)
	assert.Equal(t, int64(0), frames[0])
	assert.Equal(t, 5*model.MinuteMs, frames[5])
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddStrategy(testStrategy("zeta")))
	require.NoError(t, r.AddStrategy(testStrategy("alpha")))
	assert.Equal(t, []string{"alpha", "zeta"}, r.ListStrategies())
}
