package strategy

import (
	"context"

	"signal-engine/internal/model"
	"signal-engine/internal/runctx"
)

// Simulate advances an existing signal through a prefetched candle sequence
// without further exchange calls. The backtest loop uses it to fast-forward
// past the open signal instead of ticking minute by minute. The return value
// is the terminal result, or the last non-terminal state when the window is
// exhausted.
func (c *Client) Simulate(ctx context.Context, symbol string, candles []model.Candle) (model.TickResult, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return model.TickResult{}, err
	}

	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	row := st.signal
	if row == nil {
		return model.TickResult{Kind: model.TickIdle}, nil
	}

	last := model.TickResult{Kind: model.TickScheduled, Signal: row}
	if row.State == model.StatePending {
		last.Kind = model.TickActive
	}

	dirty := false
	for _, cd := range candles {
		if cd.Timestamp <= st.lastSeenTs {
			continue
		}
		st.lastSeenTs = cd.Timestamp
		ec.When = cd.Timestamp

		switch row.State {
		case model.StateScheduled:
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
				if c.risk != nil {
					c.risk.Acquire(symbol)
				}
				c.publishSignal(ec, model.TickOpened, row, nil)
				c.lifecycleOpen(ctx, ec, row)

				// The activation candle runs the pending rules too.
				if cl := c.evalPendingCandle(st, row, cd, &dirty); cl != nil {
					return c.closeSignal(ctx, st, ec, row, cl.reason, cl.price, cd.Timestamp)
				}
				last = model.TickResult{Kind: model.TickOpened, Signal: row}
			default:
				last = model.TickResult{Kind: model.TickScheduled, Signal: row}
			}

		case model.StatePending:
			if cl := c.evalPendingCandle(st, row, cd, &dirty); cl != nil {
				return c.closeSignal(ctx, st, ec, row, cl.reason, cl.price, cd.Timestamp)
			}
			last = model.TickResult{Kind: model.TickActive, Signal: row}
		}
	}
	return last, nil
}

// ForceClose terminates any open signal at the given price, used when a
// backtest window runs out. Scheduled signals cancel, pending signals close
// as time-expired.
func (c *Client) ForceClose(ctx context.Context, symbol string, price float64, ts int64) (model.TickResult, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return model.TickResult{}, err
	}

	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	row := st.signal
	if row == nil {
		return model.TickResult{Kind: model.TickIdle}, nil
	}
	if row.State == model.StateScheduled {
		return c.cancelSignal(ctx, st, ec, row, model.CloseTimeExpired, ts), nil
	}
	return c.closeSignal(ctx, st, ec, row, model.CloseTimeExpired, price, ts)
}

// Current returns the open signal row for a symbol, or nil.
func (c *Client) Current(symbol string) *model.SignalRow {
	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.signal
}
