package strategy

import (
	"context"

	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/pnl"
	"signal-engine/internal/runctx"
)

// maxMonitorWindow caps a single monitoring fetch at one day of 1m candles.
const maxMonitorWindow = 1440

type schedEvent int

const (
	schedNone schedEvent = iota
	schedCancelStop
	schedActivate
	schedTimeout
)

// evalScheduledCandle applies the pre-activation rules in priority order:
// stop-cross cancel, activation, schedule timeout. First match wins.
func (c *Client) evalScheduledCandle(row *model.SignalRow, cd model.Candle) schedEvent {
	if c.cfg.Risk.CancelScheduledOnStopCross && crossesLevel(row.Position, cd, row.PriceStopLoss) {
		return schedCancelStop
	}
	if crossesLevel(row.Position, cd, row.PriceOpen) {
		return schedActivate
	}
	if cd.Timestamp-row.ScheduledAt >= int64(c.cfg.Engine.ScheduleAwaitMin)*model.MinuteMs {
		return schedTimeout
	}
	return schedNone
}

// crossesLevel reports whether the candle range reaches a level from the
// entry side of the position: longs fill on the way down, shorts on the way
// up.
func crossesLevel(pos model.Position, cd model.Candle, level float64) bool {
	if pos == model.PositionLong {
		return cd.Low <= level
	}
	return cd.High >= level
}

type pendingClose struct {
	reason model.CloseReason
	price  float64
}

// evalPendingCandle applies the post-activation rules for one candle in
// priority order: same-candle TP/SL conflict, TP, SL, partial levels,
// breakeven, trailing, time expiry. A nil return means the signal stays
// active. Mutations (partials, stop moves) are flagged through dirty.
func (c *Client) evalPendingCandle(st *symbolState, row *model.SignalRow, cd model.Candle, dirty *bool) *pendingClose {
	var tpHit, slHit bool
	if row.Position == model.PositionLong {
		tpHit = cd.High >= row.PriceTakeProfit
		slHit = cd.Low <= row.PriceStopLoss
	} else {
		tpHit = cd.Low <= row.PriceTakeProfit
		slHit = cd.High >= row.PriceStopLoss
	}

	if tpHit && slHit {
		// Ambiguous candle: conservative default is stop-loss.
		if c.cfg.Risk.OptimisticSameCandle {
			return &pendingClose{reason: model.CloseTakeProfit, price: row.PriceTakeProfit}
		}
		return &pendingClose{reason: model.CloseStopLoss, price: row.PriceStopLoss}
	}
	if tpHit {
		return &pendingClose{reason: model.CloseTakeProfit, price: row.PriceTakeProfit}
	}
	if slHit {
		return &pendingClose{reason: model.CloseStopLoss, price: row.PriceStopLoss}
	}

	pnlPct := pnl.Calculate(row.Position, row.PriceOpen, cd.Close,
		c.cfg.Engine.PercentFee, c.cfg.Engine.PercentSlippage).PnlPercentage

	before := len(row.TotalExecuted)
	c.partial.Check(row, pnlPct, cd.Timestamp)
	if len(row.TotalExecuted) != before {
		*dirty = true
	}

	if c.applyBreakeven(row, pnlPct, cd.Timestamp) {
		*dirty = true
	}
	if c.applyTrailing(st, row, cd) {
		*dirty = true
	}

	if cd.Timestamp-row.PendingAt >= int64(row.MinuteEstimatedTime)*model.MinuteMs {
		return &pendingClose{reason: model.CloseTimeExpired, price: cd.Close}
	}
	return nil
}

// applyBreakeven moves the stop to the cost-adjusted entry once the PnL
// clears the breakeven threshold. Fires at most once per signal.
func (c *Client) applyBreakeven(row *model.SignalRow, pnlPct float64, ts int64) bool {
	if row.BreakevenSet || pnlPct < c.cfg.BreakevenThresholdPct() {
		return false
	}
	newStop := pnl.BreakevenPrice(row.Position, row.PriceOpen,
		c.cfg.Engine.PercentFee, c.cfg.Engine.PercentSlippage)
	if !tightens(row.Position, row.PriceStopLoss, newStop) {
		row.BreakevenSet = true
		return false
	}
	old := row.PriceStopLoss
	row.PriceStopLoss = newStop
	row.BreakevenSet = true
	c.log.Info().Str("symbol", row.Symbol).
		Float64("old", old).Float64("new", newStop).Msg("breakeven stop set")
	c.bus.Publish(events.TopicBreakeven, events.BreakevenEvent{
		Symbol:       row.Symbol,
		StrategyName: c.name,
		Timestamp:    ts,
		OldStopLoss:  old,
		NewStopLoss:  newStop,
		Signal:       row,
	})
	return true
}

// applyTrailing tightens the stop behind the water mark once the activation
// profit is reached. The stop never loosens.
func (c *Client) applyTrailing(st *symbolState, row *model.SignalRow, cd model.Candle) bool {
	tc := c.schema.Trailing
	if tc == nil {
		return false
	}

	if st.trail == nil {
		st.trail = &trailState{highWater: row.PriceOpen, lowWater: row.PriceOpen}
	}
	t := st.trail
	if cd.High > t.highWater {
		t.highWater = cd.High
	}
	if cd.Low < t.lowWater {
		t.lowWater = cd.Low
	}

	if !t.activated {
		profit := pnl.RawPercent(row.Position, row.PriceOpen, cd.Close)
		if profit < tc.ActivationPercent {
			return false
		}
		t.activated = true
	}

	var candidate float64
	if row.Position == model.PositionLong {
		candidate = t.highWater * (1 - tc.TrailingPercent/100)
	} else {
		candidate = t.lowWater * (1 + tc.TrailingPercent/100)
	}
	if !tightens(row.Position, row.PriceStopLoss, candidate) {
		return false
	}
	c.log.Debug().Str("symbol", row.Symbol).
		Float64("old", row.PriceStopLoss).Float64("new", candidate).Msg("trailing stop moved")
	row.PriceStopLoss = candidate
	return true
}

// tightens reports whether the candidate stop is strictly closer to price
// than the current one, in the protective direction.
func tightens(pos model.Position, current, candidate float64) bool {
	if pos == model.PositionLong {
		return candidate > current
	}
	return candidate < current
}

// windowCandles fetches the unprocessed 1m candles between fromTs and the
// ambient timestamp.
func (c *Client) windowCandles(ctx context.Context, ec runctx.Execution, fromTs, lastSeen int64) ([]model.Candle, error) {
	span := int((ec.When-fromTs)/model.MinuteMs) + 1
	if span < 1 {
		span = 1
	}
	if span > maxMonitorWindow {
		c.log.Warn().Str("symbol", ec.Symbol).Int("span", span).
			Msg("monitor window clamped, candles before the window are not evaluated")
		span = maxMonitorWindow
	}
	candles, err := c.exchange.GetCandles(ctx, ec.Symbol, "1m", span)
	if err != nil {
		return nil, err
	}
	out := candles[:0]
	for _, cd := range candles {
		if cd.Timestamp >= fromTs && cd.Timestamp > lastSeen {
			out = append(out, cd)
		}
	}
	return out, nil
}

// monitorScheduled walks the candle window since scheduling and applies the
// pre-activation rules. Activation continues into the pending ruleset on
// the same candle.
func (c *Client) monitorScheduled(ctx context.Context, st *symbolState, ec runctx.Execution) (model.TickResult, error) {
	row := st.signal

	candles, err := c.windowCandles(ctx, ec, row.ScheduledAt, st.lastSeenTs)
	if err != nil {
		return model.TickResult{}, err
	}

	for i, cd := range candles {
		prevSeen := st.lastSeenTs
		st.lastSeenTs = cd.Timestamp

		switch c.evalScheduledCandle(row, cd) {
		case schedCancelStop:
			return c.cancelSignal(ctx, st, ec, row, model.CloseStopLoss, cd.Timestamp), nil
		case schedTimeout:
			return c.cancelSignal(ctx, st, ec, row, model.CloseTimeExpired, cd.Timestamp), nil
		case schedActivate:
			if err := c.consultRisk(ctx, ec, row); err != nil {
				return c.cancelSignal(ctx, st, ec, row, model.CloseCancelled, cd.Timestamp), nil
			}
			row.State = model.StatePending
			row.PendingAt = cd.Timestamp
			if !ec.Backtest {
				if err := c.store.Write(ctx, row); err != nil {
					// Refuse the transition and forget the candle, so the
					// next tick replays the cross once the store recovers.
					row.State = model.StateScheduled
					row.PendingAt = 0
					st.lastSeenTs = prevSeen
					c.publishError(ec, "persistSignal", err)
					return model.TickResult{Kind: model.TickScheduled, Signal: row}, nil
				}
			}
			if c.risk != nil {
				c.risk.Acquire(row.Symbol)
			}
			c.publishSignal(ec, model.TickOpened, row, nil)
			c.lifecycleOpen(ctx, ec, row)

			// TP or SL may fire on the activation candle itself.
			res, err := c.monitorPendingCandles(ctx, st, ec, row, candles[i:])
			if err != nil {
				return res, err
			}
			if res.Kind == model.TickClosed {
				return res, nil
			}
			return model.TickResult{Kind: model.TickOpened, Signal: row}, nil
		}
	}

	if ec.When-row.ScheduledAt >= int64(c.cfg.Engine.ScheduleAwaitMin)*model.MinuteMs {
		return c.cancelSignal(ctx, st, ec, row, model.CloseTimeExpired, ec.When), nil
	}

	c.bus.Publish(events.TopicSchedulePing, events.SignalEvent{
		Action:       model.TickScheduled,
		Symbol:       row.Symbol,
		StrategyName: c.name,
		ExchangeName: row.ExchangeName,
		Backtest:     ec.Backtest,
		Signal:       row,
	})
	return model.TickResult{Kind: model.TickScheduled, Signal: row}, nil
}

// monitorPending walks the candle window since activation under the pending
// ruleset.
func (c *Client) monitorPending(ctx context.Context, st *symbolState, ec runctx.Execution) (model.TickResult, error) {
	row := st.signal
	candles, err := c.windowCandles(ctx, ec, row.PendingAt, st.lastSeenTs)
	if err != nil {
		return model.TickResult{}, err
	}
	return c.monitorPendingCandles(ctx, st, ec, row, candles)
}

func (c *Client) monitorPendingCandles(ctx context.Context, st *symbolState, ec runctx.Execution, row *model.SignalRow, candles []model.Candle) (model.TickResult, error) {
	dirty := false
	for _, cd := range candles {
		st.lastSeenTs = cd.Timestamp
		if cl := c.evalPendingCandle(st, row, cd, &dirty); cl != nil {
			return c.closeSignal(ctx, st, ec, row, cl.reason, cl.price, cd.Timestamp)
		}
	}

	// Expiry can pass between candles; close at the current average price.
	if ec.When-row.PendingAt >= int64(row.MinuteEstimatedTime)*model.MinuteMs {
		price, err := c.exchange.GetAveragePrice(ctx, row.Symbol)
		if err != nil {
			return model.TickResult{}, err
		}
		return c.closeSignal(ctx, st, ec, row, model.CloseTimeExpired, price, ec.When)
	}

	if dirty && !ec.Backtest {
		if err := c.store.Write(ctx, row); err != nil {
			c.publishError(ec, "persistSignal", err)
		}
	}

	c.bus.Publish(events.TopicActivePing, events.SignalEvent{
		Action:       model.TickActive,
		Symbol:       row.Symbol,
		StrategyName: c.name,
		ExchangeName: row.ExchangeName,
		Backtest:     ec.Backtest,
		Signal:       row,
	})
	return model.TickResult{Kind: model.TickActive, Signal: row}, nil
}

// closeSignal finalizes a pending signal: PnL, persistence clear, slot
// release, events, lifecycle callback.
func (c *Client) closeSignal(ctx context.Context, st *symbolState, ec runctx.Execution, row *model.SignalRow, reason model.CloseReason, price float64, ts int64) (model.TickResult, error) {
	row.State = model.StateClosed
	row.CloseTimestamp = ts
	row.CloseReason = reason
	row.PriceClose = price

	p := pnl.Calculate(row.Position, row.PriceOpen, price,
		c.cfg.Engine.PercentFee, c.cfg.Engine.PercentSlippage)

	if !ec.Backtest {
		if err := c.store.Remove(ctx, c.name, row.Symbol); err != nil {
			c.publishError(ec, "persistClear", err)
		}
	}
	if c.risk != nil {
		c.risk.Release(row.Symbol)
	}
	c.clearSignal(st, row)

	c.log.Info().Str("symbol", row.Symbol).Str("reason", string(reason)).
		Float64("pnl", p.PnlPercentage).Msg("signal closed")
	c.publishSignal(ec, model.TickClosed, row, &p)

	if c.schema.OnClose != nil {
		if err := c.schema.OnClose(ctx, row, &p); err != nil {
			c.publishError(ec, "onClose", err)
		}
	}
	return model.TickResult{Kind: model.TickClosed, Signal: row, PnL: &p}, nil
}

// cancelSignal finalizes a signal that never activated. No position existed,
// so there is no PnL and no risk slot to release.
func (c *Client) cancelSignal(ctx context.Context, st *symbolState, ec runctx.Execution, row *model.SignalRow, reason model.CloseReason, ts int64) model.TickResult {
	row.State = model.StateClosed
	row.CloseTimestamp = ts
	row.CloseReason = reason

	c.clearSignal(st, row)

	c.log.Info().Str("symbol", row.Symbol).Str("reason", string(reason)).Msg("scheduled signal cancelled")
	c.publishSignal(ec, model.TickCancelled, row, nil)
	return model.TickResult{Kind: model.TickCancelled, Signal: row}
}

func (c *Client) clearSignal(st *symbolState, row *model.SignalRow) {
	st.signal = nil
	st.trail = nil
	st.lastSeenTs = 0
	c.mu.Lock()
	delete(c.liveIDs, row.ID)
	c.mu.Unlock()
}
