// Package engine is the embedding surface: schema registration, the
// Backtest/Live/Walker commands, event listeners, and the ambient-context
// utilities. An Engine owns one bus, one schema registry, and one memoized
// connection layer.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/backtest"
	"signal-engine/internal/conn"
	"signal-engine/internal/events"
	"signal-engine/internal/live"
	"signal-engine/internal/logging"
	"signal-engine/internal/model"
	"signal-engine/internal/persistence"
	"signal-engine/internal/report"
	"signal-engine/internal/runctx"
	"signal-engine/internal/schema"
	"signal-engine/internal/walker"
)

// Mode names the running command kind, derived from the ambient contexts.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Engine wires the registry, bus, persistence, and loops together.
type Engine struct {
	cfg    *config.Config
	log    zerolog.Logger
	reg    *schema.Registry
	bus    *events.Bus
	store  *persistence.SignalStore
	mgr    *conn.Manager
	bt     *backtest.Loop
	lv     *live.Loop
	wk     *walker.Walker
	acc    *report.Accumulator
	unsubs []func()
}

// Option customizes construction.
type Option func(*options)

type options struct {
	logger  *zerolog.Logger
	adapter persistence.Adapter
}

// WithLogger replaces the config-built logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = &log }
}

// WithPersistenceAdapter replaces the config-selected persistence backend.
func WithPersistenceAdapter(a persistence.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// New builds an engine from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := logging.New(cfg.Logging)
	if o.logger != nil {
		log = *o.logger
	}

	var store *persistence.SignalStore
	if o.adapter != nil {
		store = persistence.NewSignalStore(o.adapter)
	} else {
		var err error
		store, err = persistence.NewSignalStoreFromConfig(cfg.Persistence)
		if err != nil {
			return nil, err
		}
	}

	reg := schema.NewRegistry()
	bus := events.NewBus()
	mgr := conn.NewManager(reg, bus, store, cfg, log)

	e := &Engine{
		cfg:   cfg,
		log:   log,
		reg:   reg,
		bus:   bus,
		store: store,
		mgr:   mgr,
		bt:    backtest.NewLoop(mgr, bus, cfg, log),
		lv:    live.NewLoop(mgr, bus, cfg, log),
		wk:    walker.New(reg, mgr, bus, cfg, log),
		acc:   report.New(),
	}
	e.unsubs = append(e.unsubs, e.acc.Subscribe(bus))
	return e, nil
}

// Close flushes the bus and detaches internal listeners.
func (e *Engine) Close() {
	e.bus.Flush()
	for _, unsub := range e.unsubs {
		unsub()
	}
}

// Bus exposes the event bus for advanced embedders; the Listen helpers
// cover the common cases.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Report is the engine-lifetime closed-signal accumulator.
func (e *Engine) Report() *report.Accumulator { return e.acc }

// Flush blocks until every queued event is delivered.
func (e *Engine) Flush() { e.bus.Flush() }

// Registration. Add fails on duplicate names, Override on absent ones.

func (e *Engine) AddExchange(s schema.ExchangeSchema) error   { return e.reg.AddExchange(s) }
func (e *Engine) AddStrategy(s schema.StrategySchema) error   { return e.reg.AddStrategy(s) }
func (e *Engine) AddFrame(s schema.FrameSchema) error         { return e.reg.AddFrame(s) }
func (e *Engine) AddRisk(s schema.RiskSchema) error           { return e.reg.AddRisk(s) }
func (e *Engine) AddWalker(s schema.WalkerSchema) error       { return e.reg.AddWalker(s) }
func (e *Engine) AddSizing(s schema.SizingSchema) error       { return e.reg.AddSizing(s) }
func (e *Engine) AddOptimizer(s schema.OptimizerSchema) error { return e.reg.AddOptimizer(s) }

func (e *Engine) OverrideExchange(name string, partial schema.ExchangeSchema) error {
	defer e.mgr.ClearAll()
	return e.reg.OverrideExchange(name, partial)
}

func (e *Engine) OverrideStrategy(name string, partial schema.StrategySchema) error {
	defer e.mgr.ClearStrategy(name)
	return e.reg.OverrideStrategy(name, partial)
}

func (e *Engine) OverrideFrame(name string, partial schema.FrameSchema) error {
	return e.reg.OverrideFrame(name, partial)
}

func (e *Engine) OverrideRisk(name string, partial schema.RiskSchema) error {
	defer e.mgr.ClearAll()
	return e.reg.OverrideRisk(name, partial)
}

func (e *Engine) OverrideWalker(name string, partial schema.WalkerSchema) error {
	return e.reg.OverrideWalker(name, partial)
}

func (e *Engine) OverrideSizing(name string, partial schema.SizingSchema) error {
	return e.reg.OverrideSizing(name, partial)
}

func (e *Engine) OverrideOptimizer(name string, partial schema.OptimizerSchema) error {
	return e.reg.OverrideOptimizer(name, partial)
}

// Utilities. All consume the ambient execution context.

// GetCandles fetches historical candles through a registered exchange,
// bounded by the ambient timestamp.
func (e *Engine) GetCandles(ctx context.Context, exchangeName, symbol, interval string, limit int) ([]model.Candle, error) {
	exch, err := e.mgr.Exchange(exchangeName)
	if err != nil {
		return nil, err
	}
	return exch.GetCandles(ctx, symbol, interval, limit)
}

// GetAveragePrice resolves the current price at the ambient timestamp.
func (e *Engine) GetAveragePrice(ctx context.Context, exchangeName, symbol string) (float64, error) {
	exch, err := e.mgr.Exchange(exchangeName)
	if err != nil {
		return 0, err
	}
	return exch.GetAveragePrice(ctx, symbol)
}

// FormatPrice rounds a price to the exchange tick table.
func (e *Engine) FormatPrice(exchangeName, symbol string, price float64) (string, error) {
	exch, err := e.mgr.Exchange(exchangeName)
	if err != nil {
		return "", err
	}
	return exch.FormatPrice(symbol, price)
}

// FormatQuantity rounds a quantity to the exchange step table.
func (e *Engine) FormatQuantity(exchangeName, symbol string, quantity float64) (string, error) {
	exch, err := e.mgr.Exchange(exchangeName)
	if err != nil {
		return "", err
	}
	return exch.FormatQuantity(symbol, quantity)
}

// GetDate returns the ambient tick time. In a backtest this is the frame
// timestamp, never the wall clock.
func (e *Engine) GetDate(ctx context.Context) (time.Time, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ec.When), nil
}

// GetMode reports whether the ambient call runs under a backtest or live
// command.
func (e *Engine) GetMode(ctx context.Context) (Mode, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return "", err
	}
	if ec.Backtest {
		return ModeBacktest, nil
	}
	return ModeLive, nil
}
