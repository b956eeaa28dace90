// Package live polls a strategy against real-time market data. State is
// restored from persistence before the first tick, so a crashed process
// resumes monitoring its open signal.
package live

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/conn"
	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/runctx"
)

// Params identifies one live task.
type Params struct {
	Symbol       string
	StrategyName string
	ExchangeName string
}

// Loop runs live polling against memoized clients.
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
		log: log.With().Str("component", "live").Logger(),
	}
}

// Run blocks until the strategy is soft-stopped and its signal closes, or
// the context is cancelled. yield, when non-nil, receives opened and closed
// results.
func (l *Loop) Run(ctx context.Context, p Params, yield func(model.TickResult)) error {
	strat, err := l.mgr.Strategy(p.StrategyName, p.ExchangeName, conn.ModeLive)
	if err != nil {
		return err
	}

	ctx = runctx.WithMethod(ctx, runctx.Method{
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
	})
	initCtx := runctx.WithExecution(ctx, runctx.Execution{
		Symbol: p.Symbol, When: time.Now().UnixMilli(),
	})
	if err := strat.WaitForInit(initCtx, p.Symbol); err != nil {
		return err
	}

	interval := time.Duration(l.cfg.Engine.TickPollIntervalMs) * time.Millisecond
	l.log.Info().Str("symbol", p.Symbol).Str("strategy", p.StrategyName).
		Dur("interval", interval).Msg("live loop started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tctx := runctx.WithExecution(ctx, runctx.Execution{
			Symbol: p.Symbol, When: time.Now().UnixMilli(),
		})

		start := time.Now()
		res, err := strat.Tick(tctx, p.Symbol)
		l.bus.Publish(events.TopicPerformance, events.PerformanceEvent{
			Name:       "live_tick",
			Symbol:     p.Symbol,
			DurationMs: time.Since(start).Milliseconds(),
		})

		if err != nil {
			l.log.Error().Err(err).Str("symbol", p.Symbol).Msg("live tick failed")
			l.bus.Publish(events.TopicError, events.ErrorEvent{
				Source:       "liveTick",
				Symbol:       p.Symbol,
				StrategyName: p.StrategyName,
				Message:      err.Error(),
			})
		} else if yield != nil {
			switch res.Kind {
			case model.TickOpened, model.TickClosed, model.TickCancelled:
				yield(res)
			}
		}

		if strat.Stopped(p.Symbol) && !strat.HasOpenSignal(p.Symbol) {
			l.bus.Publish(events.TopicDoneLive, events.DoneEvent{
				Symbol:       p.Symbol,
				StrategyName: p.StrategyName,
				ExchangeName: p.ExchangeName,
			})
			l.log.Info().Str("symbol", p.Symbol).Msg("live loop stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Stop sets the soft flag: the loop exits after the open signal, if any,
// closes naturally.
func (l *Loop) Stop(p Params) error {
	strat, err := l.mgr.Strategy(p.StrategyName, p.ExchangeName, conn.ModeLive)
	if err != nil {
		return err
	}
	strat.Stop(p.Symbol)
	return nil
}
