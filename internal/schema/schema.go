// Package schema defines the user-supplied collaborator contracts and the
// named registries that hold them. Registration performs shallow validation
// only; cross-references between schemas are resolved by the command layer
// at execution start.
package schema

import (
	"context"
	"errors"
	"fmt"

	"signal-engine/internal/model"
)

var (
	ErrDuplicateSchema = errors.New("schema already registered")
	ErrSchemaMissing   = errors.New("schema not registered")
)

// ExchangeSchema supplies market data and formatting for one exchange.
// GetCandles must return ascending candles with timestamps >= since.
type ExchangeSchema struct {
	Name string

	GetCandles func(ctx context.Context, symbol, interval string, since int64, limit int) ([]model.Candle, error)

	// Optional override of the default VWAP computation. Implementations
	// must respect the ambient execution timestamp.
	GetAveragePrice func(ctx context.Context, symbol string) (float64, error)

	// Optional formatting overrides. When nil, the engine rounds with the
	// tick/step tables below.
	FormatPrice    func(symbol string, price float64) (string, error)
	FormatQuantity func(symbol string, quantity float64) (string, error)

	// Decimal tick/step sizes per symbol, e.g. "0.01". Used by the default
	// formatters.
	PriceTick    map[string]string
	QuantityStep map[string]string
}

func (s ExchangeSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("exchange schema: empty name")
	}
	if s.GetCandles == nil {
		return fmt.Errorf("exchange schema %q: GetCandles is required", s.Name)
	}
	return nil
}

// TrailingConfig enables the optional trailing stop for a strategy.
// Percentages are absolute price percentages: activation at +N% profit,
// trail at M% below the water mark.
type TrailingConfig struct {
	ActivationPercent float64
	TrailingPercent   float64
}

// StrategySchema supplies the signal callback and its throttling interval.
type StrategySchema struct {
	Name string

	// Interval throttles GetSignal invocations, e.g. "5m".
	Interval string

	// GetSignal returns a candidate signal or nil for no action. when is
	// unix milliseconds of the current tick.
	GetSignal func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error)

	// Optional risk schema consulted on transition into pending.
	RiskName string

	// Optional sizing schema for quantity computation.
	SizingName string

	Trailing *TrailingConfig

	// Optional lifecycle callbacks, invoked after the corresponding event
	// is published. Failures are isolated to the current tick.
	OnSchedule func(ctx context.Context, row *model.SignalRow) error
	OnOpen     func(ctx context.Context, row *model.SignalRow) error
	OnClose    func(ctx context.Context, row *model.SignalRow, pnl *model.PnL) error
}

func (s StrategySchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy schema: empty name")
	}
	if s.GetSignal == nil {
		return fmt.Errorf("strategy schema %q: GetSignal is required", s.Name)
	}
	if s.Interval != "" {
		if _, err := model.ParseInterval(s.Interval); err != nil {
			return fmt.Errorf("strategy schema %q: %w", s.Name, err)
		}
	}
	return nil
}

// FrameSchema defines the backtest period: either an explicit timeframe
// generator or a start/end/interval triple.
type FrameSchema struct {
	Name string

	// GetTimeframes returns the monotonic ascending tick timestamps in unix
	// milliseconds. When nil, the engine generates them from the fields
	// below.
	GetTimeframes func(ctx context.Context) ([]int64, error)

	StartMs  int64
	EndMs    int64
	Interval string
}

func (s FrameSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("frame schema: empty name")
	}
	if s.GetTimeframes == nil {
		if s.EndMs <= s.StartMs {
			return fmt.Errorf("frame schema %q: end must be after start", s.Name)
		}
		if _, err := model.ParseInterval(s.Interval); err != nil {
			return fmt.Errorf("frame schema %q: %w", s.Name, err)
		}
	}
	return nil
}

// Timeframes resolves the frame vector.
func (s FrameSchema) Timeframes(ctx context.Context) ([]int64, error) {
	if s.GetTimeframes != nil {
		return s.GetTimeframes(ctx)
	}
	step, err := model.ParseInterval(s.Interval)
	if err != nil {
		return nil, err
	}
	stepMs := step.Milliseconds()
	frames := make([]int64, 0, (s.EndMs-s.StartMs)/stepMs+1)
	for ts := s.StartMs; ts <= s.EndMs; ts += stepMs {
		frames = append(frames, ts)
	}
	return frames, nil
}

// RiskContext is the view a risk predicate receives.
type RiskContext struct {
	Symbol string
	When   int64
	Signal *model.SignalRow
}

// RiskSchema is an ordered list of validation predicates plus an optional
// concurrent-position cap.
type RiskSchema struct {
	Name string

	Validations []func(ctx context.Context, rc RiskContext) error

	// Zero means unlimited.
	MaxConcurrentPositions int
}

func (s RiskSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("risk schema: empty name")
	}
	if s.MaxConcurrentPositions < 0 {
		return fmt.Errorf("risk schema %q: negative position cap", s.Name)
	}
	return nil
}

// WalkerSchema compares strategies over identical historical data.
type WalkerSchema struct {
	Name         string
	Strategies   []string
	ExchangeName string
	FrameName    string
	Metric       string
}

// Metrics a walker may rank by.
const (
	MetricSharpeRatio           = "sharpeRatio"
	MetricWinRate               = "winRate"
	MetricTotalPnl              = "totalPnl"
	MetricAvgPnl                = "avgPnl"
	MetricMaxDrawdown           = "maxDrawdown"
	MetricCertaintyRatio        = "certaintyRatio"
	MetricAnnualizedSharpeRatio = "annualizedSharpeRatio"
	MetricExpectedYearlyReturns = "expectedYearlyReturns"
)

func (s WalkerSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("walker schema: empty name")
	}
	if len(s.Strategies) == 0 {
		return fmt.Errorf("walker schema %q: no strategies", s.Name)
	}
	if s.ExchangeName == "" || s.FrameName == "" {
		return fmt.Errorf("walker schema %q: exchange and frame are required", s.Name)
	}
	switch s.Metric {
	case MetricSharpeRatio, MetricWinRate, MetricTotalPnl, MetricAvgPnl,
		MetricMaxDrawdown, MetricCertaintyRatio, MetricAnnualizedSharpeRatio,
		MetricExpectedYearlyReturns:
	default:
		return fmt.Errorf("walker schema %q: unknown metric %q", s.Name, s.Metric)
	}
	return nil
}

// SizingSchema reduces to a single compute callback.
type SizingSchema struct {
	Name string

	// CalcQuantity returns the position quantity for a candidate signal.
	CalcQuantity func(ctx context.Context, symbol string, priceOpen, priceStopLoss float64) (float64, error)
}

func (s SizingSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("sizing schema: empty name")
	}
	if s.CalcQuantity == nil {
		return fmt.Errorf("sizing schema %q: CalcQuantity is required", s.Name)
	}
	return nil
}

// OptimizerSchema reduces to a strategy-generation callback.
type OptimizerSchema struct {
	Name string

	// GetStrategies yields candidate strategy schemas for a walker run.
	GetStrategies func(ctx context.Context) ([]StrategySchema, error)
}

func (s OptimizerSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("optimizer schema: empty name")
	}
	if s.GetStrategies == nil {
		return fmt.Errorf("optimizer schema %q: GetStrategies is required", s.Name)
	}
	return nil
}
