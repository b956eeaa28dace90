// Package walker compares strategies over identical historical data by
// running each through the backtest loop and ranking one report metric.
// Strategies run sequentially so they share nothing but the frame vector.
package walker

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/backtest"
	"signal-engine/internal/conn"
	"signal-engine/internal/events"
	"signal-engine/internal/report"
	"signal-engine/internal/runctx"
	"signal-engine/internal/schema"
)

// Result is the final ranking of one walker run.
type Result struct {
	WalkerName   string
	Symbol       string
	Metric       string
	BestStrategy string
	BestMetric   float64
	Metrics      map[string]float64
	Errors       map[string]string
}

// Walker executes registered walker schemas.
type Walker struct {
	reg  *schema.Registry
	mgr  *conn.Manager
	bus  *events.Bus
	loop *backtest.Loop
	log  zerolog.Logger

	mu      sync.Mutex
	stops   map[string]bool   // (walker, symbol) -> early-finish requested
	current map[string]string // (walker, symbol) -> strategy in flight
}

func New(reg *schema.Registry, mgr *conn.Manager, bus *events.Bus, cfg *config.Config, log zerolog.Logger) *Walker {
	return &Walker{
		reg:     reg,
		mgr:     mgr,
		bus:     bus,
		loop:    backtest.NewLoop(mgr, bus, cfg, log),
		log:     log.With().Str("component", "walker").Logger(),
		stops:   make(map[string]bool),
		current: make(map[string]string),
	}
}

func runKey(walkerName, symbol string) string { return walkerName + "|" + symbol }

// Stop requests an early finish: the strategy in flight is soft-stopped and
// no further strategies run. The ranking is still published from the
// strategies already tested, and the request is consumed by the run that
// observes it.
func (w *Walker) Stop(walkerName, symbol string) error {
	ws, err := w.reg.GetWalker(walkerName)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.stops[runKey(walkerName, symbol)] = true
	name := w.current[runKey(walkerName, symbol)]
	w.mu.Unlock()
	w.log.Info().Str("walker", walkerName).Str("symbol", symbol).Msg("walker stop requested")

	if name == "" {
		return nil
	}
	strat, err := w.mgr.Strategy(name, ws.ExchangeName, conn.ModeBacktest)
	if err != nil {
		return err
	}
	strat.Stop(symbol)
	return nil
}

// better reports whether v beats best for the metric. Drawdown ranks lower
// as better; everything else higher.
func better(metric string, v, best float64) bool {
	if metric == schema.MetricMaxDrawdown {
		return v < best
	}
	return v > best
}

// Run executes every strategy of the walker schema in order and returns the
// ranking. A failing strategy is recorded as a NaN metric and does not abort
// the walk.
func (w *Walker) Run(ctx context.Context, walkerName, symbol string) (*Result, error) {
	ws, err := w.reg.GetWalker(walkerName)
	if err != nil {
		return nil, err
	}
	ctx = runctx.WithMethod(ctx, runctx.Method{WalkerName: walkerName})

	key := runKey(walkerName, symbol)
	defer func() {
		w.mu.Lock()
		delete(w.stops, key)
		delete(w.current, key)
		w.mu.Unlock()
	}()

	acc := report.New()
	unsub := acc.Subscribe(w.bus)
	defer unsub()

	res := &Result{
		WalkerName: walkerName,
		Symbol:     symbol,
		Metric:     ws.Metric,
		BestMetric: math.NaN(),
		Metrics:    make(map[string]float64, len(ws.Strategies)),
		Errors:     make(map[string]string),
	}

	w.log.Info().Str("walker", walkerName).Str("symbol", symbol).
		Int("strategies", len(ws.Strategies)).Str("metric", ws.Metric).Msg("walker started")
	w.bus.Publish(events.TopicWalker, events.DoneEvent{
		Symbol:     symbol,
		WalkerName: walkerName,
		Backtest:   true,
	})

	for i, name := range ws.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.mu.Lock()
		stopped := w.stops[key]
		w.mu.Unlock()
		if stopped {
			w.log.Info().Str("walker", walkerName).Str("symbol", symbol).
				Int("tested", i).Msg("walker stopped early")
			break
		}

		// Fresh state machine per walk; a previous run must not leak
		// throttling or open slots into this one.
		w.mgr.ClearStrategy(name)
		acc.Clear(name)
		w.mu.Lock()
		w.current[key] = name
		w.mu.Unlock()

		value := math.NaN()
		_, runErr := w.loop.Run(ctx, backtest.Params{
			Symbol:       symbol,
			StrategyName: name,
			ExchangeName: ws.ExchangeName,
			FrameName:    ws.FrameName,
		})
		if runErr != nil {
			w.log.Warn().Err(runErr).Str("strategy", name).Msg("walker strategy failed")
			res.Errors[name] = runErr.Error()
		} else {
			w.bus.Flush()
			value = acc.Metric(name, ws.Metric)
		}
		res.Metrics[name] = value

		if !math.IsNaN(value) &&
			(res.BestStrategy == "" || better(ws.Metric, value, res.BestMetric)) {
			res.BestStrategy = name
			res.BestMetric = value
		}

		w.bus.Publish(events.TopicProgressWalker, events.WalkerProgressEvent{
			WalkerName:       walkerName,
			Symbol:           symbol,
			StrategiesTested: i + 1,
			TotalStrategies:  len(ws.Strategies),
			CurrentStrategy:  name,
			BestStrategy:     res.BestStrategy,
			BestMetric:       res.BestMetric,
			MetricValue:      value,
		})
	}

	w.bus.Publish(events.TopicWalkerComplete, events.WalkerCompleteEvent{
		WalkerName:   walkerName,
		Symbol:       symbol,
		BestStrategy: res.BestStrategy,
		BestMetric:   res.BestMetric,
		Metric:       ws.Metric,
		Results:      res.Metrics,
		Errors:       res.Errors,
	})
	w.bus.Publish(events.TopicDoneWalker, events.DoneEvent{
		Symbol:     symbol,
		WalkerName: walkerName,
		Backtest:   true,
	})
	w.log.Info().Str("walker", walkerName).Str("best", res.BestStrategy).
		Float64("metric", res.BestMetric).Msg("walker finished")
	return res, nil
}
