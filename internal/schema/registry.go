package schema

import (
	"fmt"
	"sort"
	"sync"
)

// registry is a named, immutable store for one schema kind. Writes happen
// during init, reads during execution.
type registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[string]T)}
}

func (r *registry[T]) register(name string, item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSchema, name)
	}
	r.items[name] = item
	return nil
}

func (r *registry[T]) override(name string, merge func(T) T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSchemaMissing, name)
	}
	r.items[name] = merge(cur)
	return nil
}

func (r *registry[T]) get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrSchemaMissing, name)
	}
	return item, nil
}

func (r *registry[T]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry groups the independent per-kind schema registries.
type Registry struct {
	exchanges  *registry[ExchangeSchema]
	strategies *registry[StrategySchema]
	frames     *registry[FrameSchema]
	risks      *registry[RiskSchema]
	walkers    *registry[WalkerSchema]
	sizings    *registry[SizingSchema]
	optimizers *registry[OptimizerSchema]
}

func NewRegistry() *Registry {
	return &Registry{
		exchanges:  newRegistry[ExchangeSchema](),
		strategies: newRegistry[StrategySchema](),
		frames:     newRegistry[FrameSchema](),
		risks:      newRegistry[RiskSchema](),
		walkers:    newRegistry[WalkerSchema](),
		sizings:    newRegistry[SizingSchema](),
		optimizers: newRegistry[OptimizerSchema](),
	}
}

func (r *Registry) AddExchange(s ExchangeSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.exchanges.register(s.Name, s)
}

// OverrideExchange merges the non-zero fields of the partial schema into the
// registered one.
func (r *Registry) OverrideExchange(name string, partial ExchangeSchema) error {
	return r.exchanges.override(name, func(cur ExchangeSchema) ExchangeSchema {
		if partial.GetCandles != nil {
			cur.GetCandles = partial.GetCandles
		}
		if partial.GetAveragePrice != nil {
			cur.GetAveragePrice = partial.GetAveragePrice
		}
		if partial.FormatPrice != nil {
			cur.FormatPrice = partial.FormatPrice
		}
		if partial.FormatQuantity != nil {
			cur.FormatQuantity = partial.FormatQuantity
		}
		if partial.PriceTick != nil {
			cur.PriceTick = partial.PriceTick
		}
		if partial.QuantityStep != nil {
			cur.QuantityStep = partial.QuantityStep
		}
		return cur
	})
}

func (r *Registry) GetExchange(name string) (ExchangeSchema, error) {
	return r.exchanges.get(name)
}

func (r *Registry) ListExchanges() []string { return r.exchanges.list() }

func (r *Registry) AddStrategy(s StrategySchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.strategies.register(s.Name, s)
}

func (r *Registry) OverrideStrategy(name string, partial StrategySchema) error {
	return r.strategies.override(name, func(cur StrategySchema) StrategySchema {
		if partial.Interval != "" {
			cur.Interval = partial.Interval
		}
		if partial.GetSignal != nil {
			cur.GetSignal = partial.GetSignal
		}
		if partial.RiskName != "" {
			cur.RiskName = partial.RiskName
		}
		if partial.SizingName != "" {
			cur.SizingName = partial.SizingName
		}
		if partial.Trailing != nil {
			cur.Trailing = partial.Trailing
		}
		if partial.OnSchedule != nil {
			cur.OnSchedule = partial.OnSchedule
		}
		if partial.OnOpen != nil {
			cur.OnOpen = partial.OnOpen
		}
		if partial.OnClose != nil {
			cur.OnClose = partial.OnClose
		}
		return cur
	})
}

func (r *Registry) GetStrategy(name string) (StrategySchema, error) {
	return r.strategies.get(name)
}

func (r *Registry) ListStrategies() []string { return r.strategies.list() }

func (r *Registry) AddFrame(s FrameSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.frames.register(s.Name, s)
}

func (r *Registry) OverrideFrame(name string, partial FrameSchema) error {
	return r.frames.override(name, func(cur FrameSchema) FrameSchema {
		if partial.GetTimeframes != nil {
			cur.GetTimeframes = partial.GetTimeframes
		}
		if partial.StartMs != 0 {
			cur.StartMs = partial.StartMs
		}
		if partial.EndMs != 0 {
			cur.EndMs = partial.EndMs
		}
		if partial.Interval != "" {
			cur.Interval = partial.Interval
		}
		return cur
	})
}

func (r *Registry) GetFrame(name string) (FrameSchema, error) {
	return r.frames.get(name)
}

func (r *Registry) ListFrames() []string { return r.frames.list() }

func (r *Registry) AddRisk(s RiskSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.risks.register(s.Name, s)
}

func (r *Registry) OverrideRisk(name string, partial RiskSchema) error {
	return r.risks.override(name, func(cur RiskSchema) RiskSchema {
		if partial.Validations != nil {
			cur.Validations = partial.Validations
		}
		if partial.MaxConcurrentPositions != 0 {
			cur.MaxConcurrentPositions = partial.MaxConcurrentPositions
		}
		return cur
	})
}

func (r *Registry) GetRisk(name string) (RiskSchema, error) {
	return r.risks.get(name)
}

func (r *Registry) ListRisks() []string { return r.risks.list() }

func (r *Registry) AddWalker(s WalkerSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.walkers.register(s.Name, s)
}

func (r *Registry) OverrideWalker(name string, partial WalkerSchema) error {
	return r.walkers.override(name, func(cur WalkerSchema) WalkerSchema {
		if partial.Strategies != nil {
			cur.Strategies = partial.Strategies
		}
		if partial.ExchangeName != "" {
			cur.ExchangeName = partial.ExchangeName
		}
		if partial.FrameName != "" {
			cur.FrameName = partial.FrameName
		}
		if partial.Metric != "" {
			cur.Metric = partial.Metric
		}
		return cur
	})
}

func (r *Registry) GetWalker(name string) (WalkerSchema, error) {
	return r.walkers.get(name)
}

func (r *Registry) ListWalkers() []string { return r.walkers.list() }

func (r *Registry) AddSizing(s SizingSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.sizings.register(s.Name, s)
}

func (r *Registry) OverrideSizing(name string, partial SizingSchema) error {
	return r.sizings.override(name, func(cur SizingSchema) SizingSchema {
		if partial.CalcQuantity != nil {
			cur.CalcQuantity = partial.CalcQuantity
		}
		return cur
	})
}

func (r *Registry) GetSizing(name string) (SizingSchema, error) {
	return r.sizings.get(name)
}

func (r *Registry) ListSizings() []string { return r.sizings.list() }

func (r *Registry) AddOptimizer(s OptimizerSchema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.optimizers.register(s.Name, s)
}

func (r *Registry) OverrideOptimizer(name string, partial OptimizerSchema) error {
	return r.optimizers.override(name, func(cur OptimizerSchema) OptimizerSchema {
		if partial.GetStrategies != nil {
			cur.GetStrategies = partial.GetStrategies
		}
		return cur
	})
}

func (r *Registry) GetOptimizer(name string) (OptimizerSchema, error) {
	return r.optimizers.get(name)
}

func (r *Registry) ListOptimizers() []string { return r.optimizers.list() }
