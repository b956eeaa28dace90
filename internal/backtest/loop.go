// Package backtest drives a strategy over a historical frame vector. Open
// signals are fast-forwarded through prefetched future candles instead of
// ticking frame by frame, and the loop skips ahead to the first frame past
// the close.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/conn"
	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/runctx"
)

// ErrNoFrames marks a frame schema that resolved to an empty vector.
var ErrNoFrames = errors.New("frame schema produced no timeframes")

// candleBuffer pads the fast-forward window so a signal closing right at the
// estimated lifetime still sees its closing candle.
const candleBuffer = 5

// Params identifies one backtest task.
type Params struct {
	Symbol       string
	StrategyName string
	ExchangeName string
	FrameName    string
}

// Loop runs backtests against memoized clients.
type Loop struct {
	mgr *conn.Manager
	bus *events.Bus
	cfg *config.Config
	log zerolog.Logger
}

func NewLoop(mgr *conn.Manager, bus *events.Bus, cfg *config.Config, log zerolog.Logger) *Loop {
	return &Loop{
		mgr: mgr,
		bus: bus,
		cfg: cfg,
		log: log.With().Str("component", "backtest").Logger(),
	}
}

// Run executes the whole frame vector and returns the closed results in
// ascending close-timestamp order.
func (l *Loop) Run(ctx context.Context, p Params) ([]model.TickResult, error) {
	var results []model.TickResult
	err := l.run(ctx, p, func(res model.TickResult) bool {
		results = append(results, res)
		return true
	})
	if err != nil {
		l.publishExit(p, err)
	}
	return results, err
}

// publishExit reports a symbol abort on the exit subject. Cancellation is a
// deliberate stop, not an abort.
func (l *Loop) publishExit(p Params, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	l.log.Error().Err(err).Str("symbol", p.Symbol).
		Str("strategy", p.StrategyName).Msg("backtest aborted")
	l.bus.Publish(events.TopicExit, events.ErrorEvent{
		Source:       "backtest",
		Symbol:       p.Symbol,
		StrategyName: p.StrategyName,
		Message:      err.Error(),
	})
}

// run walks the frames and yields every closed result. A false return from
// yield stops the loop early.
func (l *Loop) run(ctx context.Context, p Params, yield func(model.TickResult) bool) error {
	strat, err := l.mgr.Strategy(p.StrategyName, p.ExchangeName, conn.ModeBacktest)
	if err != nil {
		return err
	}
	exch, err := l.mgr.Exchange(p.ExchangeName)
	if err != nil {
		return err
	}
	frame, err := l.mgr.Frame(p.FrameName)
	if err != nil {
		return err
	}

	ctx = runctx.WithMethod(ctx, runctx.Method{
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
		FrameName:    p.FrameName,
	})
	frames, err := frame.Timeframes(ctx)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrames, p.FrameName)
	}

	l.log.Info().Str("symbol", p.Symbol).Str("strategy", p.StrategyName).
		Int("frames", len(frames)).Msg("backtest started")

	total := len(frames)
	for i := 0; i < total; {
		if err := ctx.Err(); err != nil {
			return err
		}
		when := frames[i]
		tctx := runctx.WithExecution(ctx, runctx.Execution{
			Symbol: p.Symbol, When: when, Backtest: true,
		})

		l.bus.Publish(events.TopicProgressBacktest, events.ProgressEvent{
			Symbol:          p.Symbol,
			StrategyName:    p.StrategyName,
			ProcessedFrames: i,
			TotalFrames:     total,
		})

		res, err := strat.Tick(tctx, p.Symbol)
		if err != nil {
			// Fatal for this symbol only; the caller may run others.
			return err
		}

		switch res.Kind {
		case model.TickScheduled, model.TickOpened:
			closed, err := l.fastForward(tctx, p, strat, exch, res)
			if err != nil {
				return err
			}
			if closed.Kind == model.TickClosed || closed.Kind == model.TickCancelled {
				if !yield(closed) {
					return nil
				}
				closeTs := closed.Signal.CloseTimestamp
				for i < total && frames[i] <= closeTs {
					i++
				}
			} else {
				i++
			}

		case model.TickClosed, model.TickCancelled:
			if !yield(res) {
				return nil
			}
			i++

		default:
			i++
		}
	}

	// The window ran out with a signal still open.
	if strat.Current(p.Symbol) != nil {
		lastWhen := frames[total-1]
		tctx := runctx.WithExecution(ctx, runctx.Execution{
			Symbol: p.Symbol, When: lastWhen, Backtest: true,
		})
		price, err := exch.GetAveragePrice(tctx, p.Symbol)
		if err != nil {
			return err
		}
		res, err := strat.ForceClose(tctx, p.Symbol, price, lastWhen)
		if err != nil {
			return err
		}
		if res.Kind == model.TickClosed || res.Kind == model.TickCancelled {
			if !yield(res) {
				return nil
			}
		}
	}

	l.bus.Publish(events.TopicDoneBacktest, events.DoneEvent{
		Symbol:       p.Symbol,
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
		FrameName:    p.FrameName,
		Backtest:     true,
	})
	l.log.Info().Str("symbol", p.Symbol).Str("strategy", p.StrategyName).Msg("backtest finished")
	return nil
}

// fastForward simulates the open signal through its maximum remaining
// lifetime. If the candle feed runs short the signal is force-closed on the
// last candle.
func (l *Loop) fastForward(ctx context.Context, p Params, strat strategyClient, exch exchangeClient, res model.TickResult) (model.TickResult, error) {
	window := res.Signal.MinuteEstimatedTime + candleBuffer
	if res.Kind == model.TickScheduled {
		window += l.cfg.Engine.ScheduleAwaitMin
	}

	candles, err := exch.GetNextCandles(ctx, p.Symbol, "1m", window)
	if err != nil {
		return model.TickResult{}, err
	}

	simRes, err := strat.Simulate(ctx, p.Symbol, candles)
	if err != nil {
		return model.TickResult{}, err
	}
	if simRes.Kind == model.TickClosed || simRes.Kind == model.TickCancelled {
		return simRes, nil
	}

	if len(candles) == 0 {
		return simRes, nil
	}
	last := candles[len(candles)-1]
	return strat.ForceClose(ctx, p.Symbol, last.Close, last.Timestamp)
}

// Narrow views of the memoized clients, for tests.
type strategyClient interface {
	Tick(ctx context.Context, symbol string) (model.TickResult, error)
	Simulate(ctx context.Context, symbol string, candles []model.Candle) (model.TickResult, error)
	ForceClose(ctx context.Context, symbol string, price float64, ts int64) (model.TickResult, error)
	Current(symbol string) *model.SignalRow
}

type exchangeClient interface {
	GetNextCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	GetAveragePrice(ctx context.Context, symbol string) (float64, error)
}
