package strategy

import (
	"errors"
	"fmt"
	"math"

	"signal-engine/internal/model"
)

// ErrInvalidSignal marks a user signal that fails the validity rules. It is
// user-correctable: the engine reports it and continues.
var ErrInvalidSignal = errors.New("invalid signal")

// validate applies the signal-validity rules against the resolved entry
// price. priceOpen is the DTO entry or, for market entries, the current
// average price.
func (c *Client) validate(dto *model.SignalDTO, priceOpen float64) error {
	if !dto.Position.Valid() {
		return fmt.Errorf("%w: unknown position %q", ErrInvalidSignal, dto.Position)
	}

	for name, v := range map[string]float64{
		"priceOpen":       priceOpen,
		"priceTakeProfit": dto.PriceTakeProfit,
		"priceStopLoss":   dto.PriceStopLoss,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s must be finite positive, got %v", ErrInvalidSignal, name, v)
		}
	}

	tp, sl := dto.PriceTakeProfit, dto.PriceStopLoss
	switch dto.Position {
	case model.PositionLong:
		if tp <= priceOpen {
			return fmt.Errorf("%w: long take profit %.8f not above entry %.8f", ErrInvalidSignal, tp, priceOpen)
		}
		if sl >= priceOpen {
			return fmt.Errorf("%w: long stop loss %.8f not below entry %.8f", ErrInvalidSignal, sl, priceOpen)
		}
	case model.PositionShort:
		if tp >= priceOpen {
			return fmt.Errorf("%w: short take profit %.8f not below entry %.8f", ErrInvalidSignal, tp, priceOpen)
		}
		if sl <= priceOpen {
			return fmt.Errorf("%w: short stop loss %.8f not above entry %.8f", ErrInvalidSignal, sl, priceOpen)
		}
	}

	tpDist := math.Abs(tp-priceOpen) / priceOpen
	if tpDist < c.cfg.Engine.MinTpDistancePct {
		return fmt.Errorf("%w: take profit distance %.4f%% below minimum %.4f%%",
			ErrInvalidSignal, tpDist*100, c.cfg.Engine.MinTpDistancePct*100)
	}

	slDist := math.Abs(sl-priceOpen) / priceOpen
	if slDist > c.cfg.Engine.MaxSlDistancePct {
		return fmt.Errorf("%w: stop loss distance %.4f%% above maximum %.4f%%",
			ErrInvalidSignal, slDist*100, c.cfg.Engine.MaxSlDistancePct*100)
	}

	if dto.MinuteEstimatedTime <= 0 {
		return fmt.Errorf("%w: minuteEstimatedTime must be positive, got %d", ErrInvalidSignal, dto.MinuteEstimatedTime)
	}
	if dto.MinuteEstimatedTime > c.cfg.Engine.MaxSignalLifetimeMin {
		return fmt.Errorf("%w: minuteEstimatedTime %d above maximum %d",
			ErrInvalidSignal, dto.MinuteEstimatedTime, c.cfg.Engine.MaxSignalLifetimeMin)
	}

	if dto.ID != "" {
		c.mu.Lock()
		_, inUse := c.liveIDs[dto.ID]
		c.mu.Unlock()
		if inUse {
			return fmt.Errorf("%w: id %q already in use by a live signal", ErrInvalidSignal, dto.ID)
		}
	}
	return nil
}
