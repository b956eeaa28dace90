package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/config"
	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/persistence"
	"signal-engine/internal/runctx"
	"signal-engine/internal/schema"
)

// spikeCandle is flat at 42100 except minute 50, where price runs through
// 43000.
func spikeCandle(minute int64) model.Candle {
	if minute == 50 {
		return model.Candle{
			Timestamp: minute * model.MinuteMs,
			Open:      42100, High: 43200, Low: 42100, Close: 43100,
			Volume: 1,
		}
	}
	return model.Candle{
		Timestamp: minute * model.MinuteMs,
		Open:      42100, High: 42100, Low: 42100, Close: 42100,
		Volume: 1,
	}
}

func newTestEngine(t *testing.T) *Engine {
	cfg := config.Default()
	eng, err := New(cfg, WithPersistenceAdapter(persistence.NewMemoryAdapter()))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	require.NoError(t, eng.AddExchange(schema.ExchangeSchema{
		Name: "x",
		GetCandles: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]model.Candle, error) {
			start := since / model.MinuteMs
			if since%model.MinuteMs != 0 {
				start++
			}
			out := make([]model.Candle, limit)
			for i := range out {
				out[i] = spikeCandle(start + int64(i))
			}
			return out, nil
		},
		GetAveragePrice: func(ctx context.Context, symbol string) (float64, error) {
			ec, err := runctx.ExecutionFrom(ctx)
			if err != nil {
				return 0, err
			}
			return spikeCandle(ec.When / model.MinuteMs).Close, nil
		},
	}))
	require.NoError(t, eng.AddFrame(schema.FrameSchema{
		Name:     "f",
		StartMs:  10 * model.MinuteMs,
		EndMs:    300 * model.MinuteMs,
		Interval: "1m",
	}))
	return eng
}

func TestBacktestEndToEnd(t *testing.T) {
	eng := newTestEngine(t)

	var modes []Mode
	var dates []time.Time
	require.NoError(t, eng.AddStrategy(schema.StrategySchema{
		Name:     "s",
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			mode, err := eng.GetMode(ctx)
			if err != nil {
				return nil, err
			}
			date, err := eng.GetDate(ctx)
			if err != nil {
				return nil, err
			}
			modes = append(modes, mode)
			dates = append(dates, date)

			if when != 10*model.MinuteMs {
				return nil, nil
			}
			return &model.SignalDTO{
				Position:            model.PositionLong,
				PriceOpen:           0,
				PriceTakeProfit:     43000,
				PriceStopLoss:       41000,
				MinuteEstimatedTime: 200,
			}, nil
		},
	}))

	var mu sync.Mutex
	var closed []events.SignalEvent
	unsub := eng.ListenSignalBacktest(func(ev events.SignalEvent) {
		if ev.Action != model.TickClosed {
			return
		}
		mu.Lock()
		closed = append(closed, ev)
		mu.Unlock()
	})
	defer unsub()

	results, err := eng.Backtest().RunAll(context.Background(), "BTCUSDT", BacktestParams{
		StrategyName: "s",
		ExchangeName: "x",
		FrameName:    "f",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.CloseTakeProfit, results[0].Signal.CloseReason)

	// The ambient utilities saw the frame clock, not the wall clock.
	require.NotEmpty(t, modes)
	assert.Equal(t, ModeBacktest, modes[0])
	assert.Equal(t, time.UnixMilli(10*model.MinuteMs), dates[0])

	eng.Flush()
	mu.Lock()
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Backtest)
	mu.Unlock()

	// The engine-lifetime report saw the trade too.
	assert.Equal(t, 1, eng.Report().Stats("s").Trades)
}

func TestBacktestStreamEarlyCancel(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.AddStrategy(schema.StrategySchema{
		Name:     "s",
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			return &model.SignalDTO{
				Position:            model.PositionLong,
				PriceOpen:           0,
				PriceTakeProfit:     50000,
				PriceStopLoss:       38000,
				MinuteEstimatedTime: 5,
			}, nil
		},
	}))

	s := eng.Backtest().Run(context.Background(), "BTCUSDT", BacktestParams{
		StrategyName: "s",
		ExchangeName: "x",
		FrameName:    "f",
	})
	_, ok := s.Next()
	require.True(t, ok)
	s.Cancel()
	for {
		if _, ok := s.Next(); !ok {
			break
		}
	}
	assert.NoError(t, s.Err())
}

func TestOverrideStrategyTakesEffect(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.AddStrategy(schema.StrategySchema{
		Name:     "s",
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			if when != 10*model.MinuteMs {
				return nil, nil
			}
			return &model.SignalDTO{
				Position:            model.PositionLong,
				PriceOpen:           0,
				PriceTakeProfit:     43000,
				PriceStopLoss:       41000,
				MinuteEstimatedTime: 200,
			}, nil
		},
	}))

	p := BacktestParams{StrategyName: "s", ExchangeName: "x", FrameName: "f"}
	results, err := eng.Backtest().RunAll(context.Background(), "BTCUSDT", p)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// A silent override must invalidate the memoized client.
	require.NoError(t, eng.OverrideStrategy("s", schema.StrategySchema{
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			return nil, nil
		},
	}))
	results, err = eng.Backtest().RunAll(context.Background(), "BTCUSDT", p)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWalkerStopEndsRunEarly(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.AddStrategy(schema.StrategySchema{
		Name:     "s",
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			return nil, nil
		},
	}))
	require.NoError(t, eng.AddWalker(schema.WalkerSchema{
		Name:         "w",
		Strategies:   []string{"s"},
		ExchangeName: "x",
		FrameName:    "f",
		Metric:       schema.MetricTotalPnl,
	}))

	require.NoError(t, eng.Walker().Stop("BTCUSDT", "w"))
	res, err := eng.Walker().Run(context.Background(), "BTCUSDT", "w")
	require.NoError(t, err)
	assert.Empty(t, res.Metrics)
}

func TestUtilitiesRequireAmbientContext(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.GetDate(context.Background())
	assert.ErrorIs(t, err, runctx.ErrContextMissing)
	_, err = eng.GetCandles(context.Background(), "x", "BTCUSDT", "1m", 5)
	assert.ErrorIs(t, err, runctx.ErrContextMissing)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.TickPollIntervalMs = 1000
	_, err := New(cfg)
	assert.Error(t, err)
}
