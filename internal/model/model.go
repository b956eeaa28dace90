package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Position is the direction of a signal.
type Position string

const (
	PositionLong  Position = "long"
	PositionShort Position = "short"
)

// Dir returns +1 for long and -1 for short.
func (p Position) Dir() float64 {
	if p == PositionShort {
		return -1
	}
	return 1
}

// Valid reports whether the position is one of the two known directions.
func (p Position) Valid() bool {
	return p == PositionLong || p == PositionShort
}

// Candle is one OHLCV bar at a fixed interval. Timestamp is the bar open
// time in unix milliseconds, aligned to the interval boundary.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// TypicalPrice is (high+low+close)/3, the per-bar price used for VWAP.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// SignalState is the lifecycle state of a signal.
type SignalState string

const (
	StateIdle      SignalState = "idle"
	StateScheduled SignalState = "scheduled"
	StatePending   SignalState = "pending"
	StateClosed    SignalState = "closed"
)

// CloseReason explains why a signal left the pending (or scheduled) state.
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "take_profit"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTimeExpired CloseReason = "time_expired"
	CloseCancelled   CloseReason = "cancelled"
	CloseUser        CloseReason = "user_close"
)

// SignalDTO is the shape a strategy callback returns. PriceOpen may be zero,
// meaning "enter at the current average price".
type SignalDTO struct {
	ID                  string   `json:"id,omitempty"`
	Position            Position `json:"position"`
	PriceOpen           float64  `json:"priceOpen,omitempty"`
	PriceTakeProfit     float64  `json:"priceTakeProfit"`
	PriceStopLoss       float64  `json:"priceStopLoss"`
	MinuteEstimatedTime int      `json:"minuteEstimatedTime"`
	Note                string   `json:"note,omitempty"`
}

// SignalRow is the validated internal record for a signal. It is the unit of
// persistence: written on transition into pending, removed on closure.
type SignalRow struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	StrategyName string   `json:"strategyName"`
	ExchangeName string   `json:"exchangeName"`
	FrameName    string   `json:"frameName,omitempty"`
	Position     Position `json:"position"`

	PriceOpen       float64 `json:"priceOpen"`
	PriceTakeProfit float64 `json:"priceTakeProfit"`
	PriceStopLoss   float64 `json:"priceStopLoss"`

	// Pre-breakeven / pre-trailing levels.
	OriginalPriceTakeProfit float64 `json:"originalPriceTakeProfit"`
	OriginalPriceStopLoss   float64 `json:"originalPriceStopLoss"`

	MinuteEstimatedTime int    `json:"minuteEstimatedTime"`
	Note                string `json:"note,omitempty"`

	State          SignalState `json:"state"`
	ScheduledAt    int64       `json:"scheduledAt"`
	PendingAt      int64       `json:"pendingAt,omitempty"`
	CloseTimestamp int64       `json:"closeTimestamp,omitempty"`
	CloseReason    CloseReason `json:"closeReason,omitempty"`
	PriceClose     float64     `json:"priceClose,omitempty"`

	// Partial milestones already fired, signed: +10 is a 10% profit level,
	// -10 a 10% loss level. Grows monotonically over the signal lifetime.
	TotalExecuted []int `json:"totalExecuted,omitempty"`

	BreakevenSet bool `json:"breakevenSet,omitempty"`
}

// Executed reports whether a signed partial level has already fired.
func (r *SignalRow) Executed(level int) bool {
	for _, l := range r.TotalExecuted {
		if l == level {
			return true
		}
	}
	return false
}

// PnL is the fee- and slippage-adjusted result of a closed signal.
type PnL struct {
	PnlPercentage      float64 `json:"pnlPercentage"`
	PriceOpenAdjusted  float64 `json:"priceOpenAdjusted"`
	PriceCloseAdjusted float64 `json:"priceCloseAdjusted"`
}

// TickKind discriminates the result of a single strategy tick.
type TickKind string

const (
	TickIdle      TickKind = "idle"
	TickScheduled TickKind = "scheduled"
	TickOpened    TickKind = "opened"
	TickActive    TickKind = "active"
	TickClosed    TickKind = "closed"
	TickCancelled TickKind = "cancelled"
)

// TickResult is the discriminated outcome of ClientStrategy.Tick. Signal is
// nil only for idle; PnL is set only for closed results.
type TickResult struct {
	Kind   TickKind
	Signal *SignalRow
	PnL    *PnL
}

// ParseInterval converts interval strings like "1m", "15m", "1h", "4h", "1d"
// into a duration.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	switch strings.ToLower(s[len(s)-1:]) {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", s)
	}
}

// MinuteMs is one minute in milliseconds.
const MinuteMs int64 = 60_000
