// Package strategy implements the per-(symbol, strategy) signal state
// machine: scheduling, activation, TP/SL/time monitoring, partial levels,
// breakeven, trailing, and closure. The same rule code drives single ticks
// and the scheduled-candle simulator, so backtest and live behave
// identically.
package strategy

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/events"
	"signal-engine/internal/exchange"
	"signal-engine/internal/model"
	"signal-engine/internal/partial"
	"signal-engine/internal/persistence"
	"signal-engine/internal/risk"
	"signal-engine/internal/runctx"
	"signal-engine/internal/schema"
)

// Client is the signal state machine for one strategy schema bound to one
// exchange. Per symbol it guarantees at most one non-closed signal.
type Client struct {
	name     string
	schema   schema.StrategySchema
	exchange *exchange.Client
	risk     *risk.Client // nil when the schema names no risk
	partial  *partial.Client
	store    *persistence.SignalStore
	bus      *events.Bus
	cfg      *config.Config
	log      zerolog.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState
	liveIDs map[string]string // signal id -> symbol, for non-closed signals
}

type symbolState struct {
	mu sync.Mutex

	signal        *model.SignalRow
	stopFlag      bool
	restored      bool
	lastGetSignal int64
	lastSeenTs    int64 // newest 1m candle already applied to the signal
	trail         *trailState
}

type trailState struct {
	highWater float64
	lowWater  float64
	activated bool
}

// Deps carries the collaborators the connection layer wires in.
type Deps struct {
	Exchange *exchange.Client
	Risk     *risk.Client
	Partial  *partial.Client
	Store    *persistence.SignalStore
	Bus      *events.Bus
	Config   *config.Config
	Log      zerolog.Logger
}

func NewClient(s schema.StrategySchema, deps Deps) *Client {
	return &Client{
		name:     s.Name,
		schema:   s,
		exchange: deps.Exchange,
		risk:     deps.Risk,
		partial:  deps.Partial,
		store:    deps.Store,
		bus:      deps.Bus,
		cfg:      deps.Config,
		log:      deps.Log.With().Str("component", "strategy").Str("strategy", s.Name).Logger(),
		symbols:  make(map[string]*symbolState),
		liveIDs:  make(map[string]string),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) state(symbol string) *symbolState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.symbols[symbol]
	if !ok {
		st = &symbolState{}
		c.symbols[symbol] = st
	}
	return st
}

// Stop sets the soft flag: no further GetSignal calls for the symbol. An
// existing signal keeps running until it closes naturally.
func (c *Client) Stop(symbol string) {
	st := c.state(symbol)
	st.mu.Lock()
	st.stopFlag = true
	st.mu.Unlock()
	c.log.Info().Str("symbol", symbol).Msg("strategy stopped")
}

// Stopped reports the soft flag.
func (c *Client) Stopped(symbol string) bool {
	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stopFlag
}

// HasOpenSignal reports whether a non-closed signal exists for the symbol.
func (c *Client) HasOpenSignal(symbol string) bool {
	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.signal != nil
}

// WaitForInit restores the persisted signal record on the first live call.
// Idempotent; backtest mode never persists and never restores.
func (c *Client) WaitForInit(ctx context.Context, symbol string) error {
	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return c.restoreLocked(ctx, st, symbol)
}

func (c *Client) restoreLocked(ctx context.Context, st *symbolState, symbol string) error {
	if st.restored {
		return nil
	}
	if err := c.store.Init(ctx, true); err != nil {
		return err
	}
	row, err := c.store.Read(ctx, c.name, symbol)
	if err != nil {
		return err
	}
	st.restored = true
	if row == nil || row.State == model.StateClosed {
		return nil
	}
	st.signal = row
	st.lastSeenTs = 0
	c.mu.Lock()
	c.liveIDs[row.ID] = symbol
	c.mu.Unlock()
	if c.risk != nil && row.State == model.StatePending {
		c.risk.Acquire(symbol)
	}
	c.log.Info().Str("symbol", symbol).Str("id", row.ID).
		Str("state", string(row.State)).Msg("restored persisted signal")
	return nil
}

// Tick runs one evaluation cycle at the ambient execution timestamp and
// returns a discriminated result.
func (c *Client) Tick(ctx context.Context, symbol string) (model.TickResult, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return model.TickResult{}, err
	}

	st := c.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !ec.Backtest {
		if err := c.restoreLocked(ctx, st, symbol); err != nil {
			return model.TickResult{}, err
		}
	}

	if st.signal == nil {
		return c.tryOpen(ctx, st, symbol, ec)
	}

	switch st.signal.State {
	case model.StateScheduled:
		return c.monitorScheduled(ctx, st, ec)
	case model.StatePending:
		return c.monitorPending(ctx, st, ec)
	default:
		// A closed signal should have been cleared already.
		st.signal = nil
		return model.TickResult{Kind: model.TickIdle}, nil
	}
}

// tryOpen asks the user strategy for a candidate and, when valid, either
// opens it immediately or schedules a limit entry.
func (c *Client) tryOpen(ctx context.Context, st *symbolState, symbol string, ec runctx.Execution) (model.TickResult, error) {
	idle := model.TickResult{Kind: model.TickIdle}

	if st.stopFlag {
		return idle, nil
	}

	interval := c.schema.Interval
	if interval == "" {
		interval = "1m"
	}
	step, err := model.ParseInterval(interval)
	if err != nil {
		return idle, err
	}
	if st.lastGetSignal != 0 && ec.When-st.lastGetSignal < step.Milliseconds() {
		return idle, nil
	}
	st.lastGetSignal = ec.When

	dto, err := c.schema.GetSignal(ctx, symbol, ec.When)
	if err != nil {
		// User callback failure is isolated to this tick.
		c.publishError(ec, "getSignal", err)
		return idle, nil
	}
	if dto == nil {
		return idle, nil
	}

	currentPrice, err := c.exchange.GetAveragePrice(ctx, symbol)
	if err != nil {
		return idle, err
	}

	marketEntry := dto.PriceOpen == 0
	priceOpen := dto.PriceOpen
	if marketEntry {
		priceOpen = currentPrice
	}

	if err := c.validate(dto, priceOpen); err != nil {
		c.publishError(ec, "validateSignal", err)
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("signal rejected by validation")
		return idle, nil
	}

	id := dto.ID
	if id == "" {
		id = uuid.NewString()
	}

	row := &model.SignalRow{
		ID:                      id,
		Symbol:                  symbol,
		StrategyName:            c.name,
		ExchangeName:            c.exchange.Name(),
		Position:                dto.Position,
		PriceOpen:               priceOpen,
		PriceTakeProfit:         dto.PriceTakeProfit,
		PriceStopLoss:           dto.PriceStopLoss,
		OriginalPriceTakeProfit: dto.PriceTakeProfit,
		OriginalPriceStopLoss:   dto.PriceStopLoss,
		MinuteEstimatedTime:     dto.MinuteEstimatedTime,
		Note:                    dto.Note,
		ScheduledAt:             ec.When,
	}

	tolerance := c.cfg.Engine.PriceOpenTolerance
	withinTolerance := currentPrice > 0 &&
		abs(priceOpen-currentPrice)/currentPrice <= tolerance

	if marketEntry || withinTolerance {
		// Activation-ready: straight into pending.
		if err := c.consultRisk(ctx, ec, row); err != nil {
			return idle, nil
		}
		row.State = model.StatePending
		row.PendingAt = ec.When
		if !ec.Backtest {
			if err := c.store.Write(ctx, row); err != nil {
				// Refuse the transition rather than run an unrecoverable
				// position.
				c.publishError(ec, "persistSignal", err)
				return idle, nil
			}
		}
		c.commitSignal(st, row)
		if c.risk != nil {
			c.risk.Acquire(symbol)
		}
		c.publishSignal(ec, model.TickOpened, row, nil)
		c.lifecycleOpen(ctx, ec, row)
		return model.TickResult{Kind: model.TickOpened, Signal: row}, nil
	}

	row.State = model.StateScheduled
	c.commitSignal(st, row)
	c.publishSignal(ec, model.TickScheduled, row, nil)
	if c.schema.OnSchedule != nil {
		if err := c.schema.OnSchedule(ctx, row); err != nil {
			c.publishError(ec, "onSchedule", err)
		}
	}
	return model.TickResult{Kind: model.TickScheduled, Signal: row}, nil
}

func (c *Client) commitSignal(st *symbolState, row *model.SignalRow) {
	st.signal = row
	st.lastSeenTs = 0
	st.trail = nil
	c.mu.Lock()
	c.liveIDs[row.ID] = row.Symbol
	c.mu.Unlock()
}

func (c *Client) consultRisk(ctx context.Context, ec runctx.Execution, row *model.SignalRow) error {
	if c.risk == nil {
		return nil
	}
	rc := schema.RiskContext{Symbol: row.Symbol, When: ec.When, Signal: row}
	if err := c.risk.CheckSignal(ctx, rc); err != nil {
		c.bus.Publish(events.TopicRisk, events.RiskEvent{
			Symbol:       row.Symbol,
			StrategyName: c.name,
			RiskName:     c.risk.Name(),
			Reason:       err.Error(),
		})
		c.log.Info().Err(err).Str("symbol", row.Symbol).Msg("signal rejected by risk")
		return err
	}
	return nil
}

func (c *Client) lifecycleOpen(ctx context.Context, ec runctx.Execution, row *model.SignalRow) {
	if c.schema.OnOpen == nil {
		return
	}
	if err := c.schema.OnOpen(ctx, row); err != nil {
		c.publishError(ec, "onOpen", err)
	}
}

func (c *Client) publishSignal(ec runctx.Execution, action model.TickKind, row *model.SignalRow, p *model.PnL) {
	ev := events.SignalEvent{
		Action:       action,
		Symbol:       row.Symbol,
		StrategyName: c.name,
		ExchangeName: row.ExchangeName,
		Backtest:     ec.Backtest,
		Signal:       row,
		PnL:          p,
	}
	c.bus.Publish(events.TopicSignal, ev)
	if ec.Backtest {
		c.bus.Publish(events.TopicSignalBacktest, ev)
	} else {
		c.bus.Publish(events.TopicSignalLive, ev)
	}
}

func (c *Client) publishError(ec runctx.Execution, source string, err error) {
	c.bus.Publish(events.TopicError, events.ErrorEvent{
		Source:       source,
		Symbol:       ec.Symbol,
		StrategyName: c.name,
		Message:      err.Error(),
	})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
