package exchange

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatPrice renders a price at the symbol's tick size. The schema override
// wins when present; otherwise the price is floored to a multiple of the
// configured tick and printed without float drift.
func (c *Client) FormatPrice(symbol string, price float64) (string, error) {
	if c.schema.FormatPrice != nil {
		return c.schema.FormatPrice(symbol, price)
	}
	tick := c.schema.PriceTick[symbol]
	return formatToStep(price, tick)
}

// FormatQuantity renders a quantity at the symbol's step size.
func (c *Client) FormatQuantity(symbol string, quantity float64) (string, error) {
	if c.schema.FormatQuantity != nil {
		return c.schema.FormatQuantity(symbol, quantity)
	}
	step := c.schema.QuantityStep[symbol]
	return formatToStep(quantity, step)
}

func formatToStep(value float64, step string) (string, error) {
	if step == "" {
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	}
	stepDec, err := decimal.NewFromString(step)
	if err != nil || stepDec.IsZero() {
		return "", fmt.Errorf("invalid step size %q", step)
	}
	v := decimal.NewFromFloat(value)
	floored := v.Div(stepDec).Floor().Mul(stepDec)
	return floored.String(), nil
}
