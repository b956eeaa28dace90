// Package pnl computes fee- and slippage-adjusted profit for closed signals.
// Both costs are charged per side: slippage moves the fill against the
// position, fees reduce the proceeds.
package pnl

import "signal-engine/internal/model"

// Calculate returns the adjusted PnL for a closed position.
//
//	adjOpen  = priceOpen  * (1 + dir*slippage) * (1 + fee)
//	adjClose = priceClose * (1 - dir*slippage) * (1 - fee)
//	pnl%     = dir * (adjClose/adjOpen - 1) * 100
func Calculate(pos model.Position, priceOpen, priceClose, fee, slippage float64) model.PnL {
	dir := pos.Dir()
	adjOpen := priceOpen * (1 + dir*slippage) * (1 + fee)
	adjClose := priceClose * (1 - dir*slippage) * (1 - fee)
	return model.PnL{
		PnlPercentage:      dir * (adjClose/adjOpen - 1) * 100,
		PriceOpenAdjusted:  adjOpen,
		PriceCloseAdjusted: adjClose,
	}
}

// AdjustedOpen is the effective entry price after slippage and fees.
func AdjustedOpen(pos model.Position, raw, fee, slippage float64) float64 {
	dir := pos.Dir()
	return raw * (1 + dir*slippage) * (1 + fee)
}

// BreakevenPrice is the close price at which the adjusted PnL is exactly
// zero. Used when moving the stop to a cost-covered entry.
func BreakevenPrice(pos model.Position, priceOpen, fee, slippage float64) float64 {
	dir := pos.Dir()
	return priceOpen * (1 + dir*slippage) * (1 + fee) /
		((1 - dir*slippage) * (1 - fee))
}

// RawPercent is the unadjusted price move in percent, signed by direction.
// Trailing activation and water-mark logic use this.
func RawPercent(pos model.Position, priceOpen, price float64) float64 {
	return pos.Dir() * (price/priceOpen - 1) * 100
}
