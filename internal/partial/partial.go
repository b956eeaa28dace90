// Package partial fires the 10%-multiple PnL milestone events. Levels are
// recorded on the signal row itself (signed, profit positive), which makes
// emission idempotent per signal per side across restarts.
package partial

import (
	"github.com/rs/zerolog"

	"signal-engine/internal/events"
	"signal-engine/internal/model"
)

// Levels are the PnL milestones, in percent.
var Levels = []int{10, 20, 30, 40, 50, 60, 70, 80, 90}

// Client publishes partial profit/loss events for one strategy instance.
type Client struct {
	bus *events.Bus
	log zerolog.Logger
}

func NewClient(bus *events.Bus, log zerolog.Logger) *Client {
	return &Client{bus: bus, log: log.With().Str("component", "partial").Logger()}
}

// Check fires every newly crossed milestone for the given PnL percentage,
// in ascending order, and records it on the row.
func (c *Client) Check(row *model.SignalRow, pnlPct float64, ts int64) {
	for _, level := range Levels {
		if pnlPct >= float64(level) && !row.Executed(level) {
			row.TotalExecuted = append(row.TotalExecuted, level)
			c.log.Debug().Str("symbol", row.Symbol).Int("level", level).Msg("partial profit level hit")
			c.bus.Publish(events.TopicPartialProfit, events.PartialEvent{
				Symbol:       row.Symbol,
				StrategyName: row.StrategyName,
				Level:        level,
				Timestamp:    ts,
				Signal:       row,
			})
		}
		if pnlPct <= -float64(level) && !row.Executed(-level) {
			row.TotalExecuted = append(row.TotalExecuted, -level)
			c.log.Debug().Str("symbol", row.Symbol).Int("level", level).Msg("partial loss level hit")
			c.bus.Publish(events.TopicPartialLoss, events.PartialEvent{
				Symbol:       row.Symbol,
				StrategyName: row.StrategyName,
				Level:        level,
				Timestamp:    ts,
				Signal:       row,
			})
		}
	}
}
