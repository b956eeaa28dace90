package engine

import (
	"context"

	"signal-engine/internal/backtest"
	"signal-engine/internal/conn"
	"signal-engine/internal/live"
	"signal-engine/internal/model"
	"signal-engine/internal/walker"
)

// BacktestParams names the schemas of one backtest task.
type BacktestParams struct {
	StrategyName string
	ExchangeName string
	FrameName    string
}

// LiveParams names the schemas of one live task.
type LiveParams struct {
	StrategyName string
	ExchangeName string
}

// BacktestCmd runs historical simulations.
type BacktestCmd struct{ e *Engine }

func (e *Engine) Backtest() BacktestCmd { return BacktestCmd{e: e} }

// Run streams the closed results lazily. Cancel on the stream honors early
// termination.
func (c BacktestCmd) Run(ctx context.Context, symbol string, p BacktestParams) *backtest.Stream {
	return c.e.bt.Stream(ctx, backtest.Params{
		Symbol:       symbol,
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
		FrameName:    p.FrameName,
	})
}

// RunAll drains the whole frame vector and returns the closed results.
func (c BacktestCmd) RunAll(ctx context.Context, symbol string, p BacktestParams) ([]model.TickResult, error) {
	return c.e.bt.Run(ctx, backtest.Params{
		Symbol:       symbol,
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
		FrameName:    p.FrameName,
	})
}

// Background runs the task detached; results arrive only through events.
// The returned closure cancels the task.
func (c BacktestCmd) Background(ctx context.Context, symbol string, p BacktestParams) func() {
	s := c.Run(ctx, symbol, p)
	go func() {
		for {
			if _, ok := s.Next(); !ok {
				return
			}
		}
	}()
	return s.Cancel
}

// Stop sets the soft flag on the backtest strategy instance.
func (c BacktestCmd) Stop(symbol string, p BacktestParams) error {
	strat, err := c.e.mgr.Strategy(p.StrategyName, p.ExchangeName, conn.ModeBacktest)
	if err != nil {
		return err
	}
	strat.Stop(symbol)
	return nil
}

// LiveCmd runs real-time polling.
type LiveCmd struct{ e *Engine }

func (e *Engine) Live() LiveCmd { return LiveCmd{e: e} }

// Run starts the polling loop and returns its handle. The Results channel
// is the infinite lazy sequence of opened and closed results.
func (c LiveCmd) Run(ctx context.Context, symbol string, p LiveParams) *live.Handle {
	return c.e.lv.Background(ctx, live.Params{
		Symbol:       symbol,
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
	})
}

// Background runs the task detached; results arrive only through events.
// The returned closure hard-cancels the task.
func (c LiveCmd) Background(ctx context.Context, symbol string, p LiveParams) func() {
	h := c.Run(ctx, symbol, p)
	go func() {
		for range h.Results() {
		}
	}()
	return h.Cancel
}

// Stop sets the soft flag: the loop exits once the open signal closes.
func (c LiveCmd) Stop(symbol string, p LiveParams) error {
	return c.e.lv.Stop(live.Params{
		Symbol:       symbol,
		StrategyName: p.StrategyName,
		ExchangeName: p.ExchangeName,
	})
}

// WalkerCmd compares strategies.
type WalkerCmd struct{ e *Engine }

func (e *Engine) Walker() WalkerCmd { return WalkerCmd{e: e} }

// Run executes the walker synchronously; progress arrives on the walker
// progress subject while it runs.
func (c WalkerCmd) Run(ctx context.Context, symbol, walkerName string) (*walker.Result, error) {
	return c.e.wk.Run(ctx, walkerName, symbol)
}

// Stop requests an early finish: the strategy in flight is soft-stopped and
// the ranking covers only the strategies already tested.
func (c WalkerCmd) Stop(symbol, walkerName string) error {
	return c.e.wk.Stop(walkerName, symbol)
}

// Background runs the walker detached; the ranking arrives on the
// walkerComplete subject.
func (c WalkerCmd) Background(ctx context.Context, symbol, walkerName string) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if _, err := c.e.wk.Run(ctx, walkerName, symbol); err != nil && ctx.Err() == nil {
			c.e.log.Error().Err(err).Str("walker", walkerName).Msg("background walker failed")
		}
	}()
	return cancel
}
