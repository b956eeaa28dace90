package strategy

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const testSymbol = "BTCUSDT"

// feed is a deterministic 1m candle source: flat at base except for minutes
// set explicitly.
type feed struct {
	mu      sync.Mutex
	base    float64
	candles map[int64]model.Candle
}

func newFeed(base float64) *feed {
	return &feed{base: base, candles: make(map[int64]model.Candle)}
}

func (f *feed) set(minute int64, open, high, low, close float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[minute] = model.Candle{
		Timestamp: minute * model.MinuteMs,
		Open:      open, High: high, Low: low, Close: close,
		Volume: 1,
	}
}

func (f *feed) at(minute int64) model.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.candles[minute]; ok {
		return c
	}
	return model.Candle{
		Timestamp: minute * model.MinuteMs,
		Open:      f.base, High: f.base, Low: f.base, Close: f.base,
		Volume: 1,
	}
}

func (f *feed) schema() schema.ExchangeSchema {
	return schema.ExchangeSchema{
		Name: "feed",
		GetCandles: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]model.Candle, error) {
			start := since / model.MinuteMs
			if since%model.MinuteMs != 0 {
				start++
			}
			out := make([]model.Candle, limit)
			for i := range out {
				out[i] = f.at(start + int64(i))
			}
			return out, nil
		},
		GetAveragePrice: func(ctx context.Context, symbol string) (float64, error) {
			ec, err := runctx.ExecutionFrom(ctx)
			if err != nil {
				return 0, err
			}
			return f.at(ec.When / model.MinuteMs).Close, nil
		},
	}
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	bus    *events.Bus
	store  *persistence.SignalStore
	feed   *feed
	client *Client

	mu          sync.Mutex
	queue       []*model.SignalDTO
	signalCalls int
	actions     []model.TickKind
	errorEvents []events.ErrorEvent
}

type harnessOpt func(*harness, *schema.StrategySchema, *Deps)

func withConfig(mod func(*config.Config)) harnessOpt {
	return func(h *harness, _ *schema.StrategySchema, _ *Deps) { mod(h.cfg) }
}

func withTrailing(tc schema.TrailingConfig) harnessOpt {
	return func(_ *harness, s *schema.StrategySchema, _ *Deps) { s.Trailing = &tc }
}

func withRisk(rs schema.RiskSchema) harnessOpt {
	return func(_ *harness, s *schema.StrategySchema, d *Deps) {
		s.RiskName = rs.Name
		d.Risk = risk.NewClient(rs, zerolog.Nop())
	}
}

func withInterval(interval string) harnessOpt {
	return func(_ *harness, s *schema.StrategySchema, _ *Deps) { s.Interval = interval }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	h := &harness{
		t:     t,
		cfg:   config.Default(),
		bus:   events.NewBus(),
		store: persistence.NewSignalStore(persistence.NewMemoryAdapter()),
		feed:  newFeed(42100),
	}
	h.cfg.Persistence.Backend = "memory"

	s := schema.StrategySchema{
		Name:     "test-strat",
		Interval: "1m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.signalCalls++
			if len(h.queue) == 0 {
				return nil, nil
			}
			dto := h.queue[0]
			h.queue = h.queue[1:]
			return dto, nil
		},
	}
	deps := Deps{
		Partial: partial.NewClient(h.bus, zerolog.Nop()),
		Store:   h.store,
		Bus:     h.bus,
		Config:  h.cfg,
		Log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h, &s, &deps)
	}
	deps.Exchange = exchange.NewClient(h.feed.schema(), h.cfg, zerolog.Nop())

	h.bus.Subscribe(events.TopicSignal, func(ev events.Event) {
		se := ev.Data.(events.SignalEvent)
		h.mu.Lock()
		h.actions = append(h.actions, se.Action)
		h.mu.Unlock()
	})
	h.bus.Subscribe(events.TopicError, func(ev events.Event) {
		ee := ev.Data.(events.ErrorEvent)
		h.mu.Lock()
		h.errorEvents = append(h.errorEvents, ee)
		h.mu.Unlock()
	})

	h.client = NewClient(s, deps)
	return h
}

func (h *harness) push(dto *model.SignalDTO) {
	h.mu.Lock()
	h.queue = append(h.queue, dto)
	h.mu.Unlock()
}

func (h *harness) tick(minute int64, backtest bool) (model.TickResult, error) {
	return h.tickSymbol(minute, backtest, testSymbol)
}

func (h *harness) tickSymbol(minute int64, backtest bool, symbol string) (model.TickResult, error) {
	ctx := runctx.WithExecution(context.Background(), runctx.Execution{
		Symbol: symbol, When: minute * model.MinuteMs, Backtest: backtest,
	})
	return h.client.Tick(ctx, symbol)
}

func (h *harness) eventActions() []model.TickKind {
	h.bus.Flush()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.TickKind(nil), h.actions...)
}

func longDTO() *model.SignalDTO {
	return &model.SignalDTO{
		Position:            model.PositionLong,
		PriceOpen:           42000,
		PriceTakeProfit:     43000,
		PriceStopLoss:       41000,
		MinuteEstimatedTime: 60,
	}
}

func TestScheduleThenActivateThenTakeProfit(t *testing.T) {
	h := newHarness(t)
	h.push(longDTO())

	// Entry 42000 vs current 42100 is outside the open tolerance.
	res, err := h.tick(10, true)
	require.NoError(t, err)
	require.Equal(t, model.TickScheduled, res.Kind)
	assert.Equal(t, model.StateScheduled, res.Signal.State)
	assert.Equal(t, 10*model.MinuteMs, res.Signal.ScheduledAt)

	// One candle dips to the entry and runs through TP.
	h.feed.set(14, 42000, 43000, 41900, 43000)

	res, err = h.tick(15, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseTakeProfit, res.Signal.CloseReason)
	assert.Equal(t, 43000.0, res.Signal.PriceClose, "closes at the level, not the candle extreme")
	assert.Equal(t, 14*model.MinuteMs, res.Signal.CloseTimestamp)
	assert.Equal(t, 14*model.MinuteMs, res.Signal.PendingAt)
	require.NotNil(t, res.PnL)
	assert.Greater(t, res.PnL.PnlPercentage, 0.0)

	assert.Equal(t,
		[]model.TickKind{model.TickScheduled, model.TickOpened, model.TickClosed},
		h.eventActions(), "lifecycle events in order")
}

func TestTemporalClosureOrdering(t *testing.T) {
	h := newHarness(t)
	h.push(longDTO())
	_, err := h.tick(10, true)
	require.NoError(t, err)

	h.feed.set(14, 42000, 43000, 41900, 43000)
	res, err := h.tick(15, true)
	require.NoError(t, err)

	row := res.Signal
	assert.GreaterOrEqual(t, row.CloseTimestamp, row.PendingAt)
	assert.GreaterOrEqual(t, row.PendingAt, row.ScheduledAt)
}

func TestStopCrossCancelsScheduled(t *testing.T) {
	h := newHarness(t)
	h.push(longDTO())
	_, err := h.tick(10, true)
	require.NoError(t, err)

	// The stop is crossed before any activation candle.
	h.feed.set(12, 41500, 41600, 40900, 41000)

	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickCancelled, res.Kind)
	assert.Equal(t, model.CloseStopLoss, res.Signal.CloseReason)
	assert.Nil(t, res.PnL, "no position existed, no PnL")
}

func TestStopCrossGateDisabledActivatesInstead(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *config.Config) {
		cfg.Risk.CancelScheduledOnStopCross = false
	}))
	h.push(longDTO())
	_, err := h.tick(10, true)
	require.NoError(t, err)

	// Same candle: with the gate off it activates and stops out instead.
	h.feed.set(12, 41500, 41600, 40900, 41000)

	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseStopLoss, res.Signal.CloseReason)
	require.NotNil(t, res.PnL)
	assert.Less(t, res.PnL.PnlPercentage, 0.0)
}

func TestScheduleTimeout(t *testing.T) {
	h := newHarness(t)
	h.push(longDTO())
	_, err := h.tick(10, true)
	require.NoError(t, err)

	// Flat above the entry: never crosses. Await window is 120 minutes.
	res, err := h.tick(131, true)
	require.NoError(t, err)
	require.Equal(t, model.TickCancelled, res.Kind)
	assert.Equal(t, model.CloseTimeExpired, res.Signal.CloseReason)
}

func TestMarketEntryOpensImmediately(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)

	res, err := h.tick(10, true)
	require.NoError(t, err)
	require.Equal(t, model.TickOpened, res.Kind)
	assert.Equal(t, model.StatePending, res.Signal.State)
	assert.Equal(t, 42100.0, res.Signal.PriceOpen, "market entry fills at the current average price")
	assert.NotEmpty(t, res.Signal.ID, "an id is assigned when the strategy supplies none")
}

func TestPendingTimeExpiry(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)

	_, err := h.tick(10, true)
	require.NoError(t, err)

	res, err := h.tick(71, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseTimeExpired, res.Signal.CloseReason)
	require.NotNil(t, res.PnL)
	assert.Less(t, res.PnL.PnlPercentage, 0.0, "flat price still pays fees and slippage")
}

func TestSameCandleConflictStopWinsByDefault(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)
	_, err := h.tick(10, true)
	require.NoError(t, err)

	// One candle spans both TP and SL.
	h.feed.set(12, 42000, 43100, 40900, 41000)

	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseStopLoss, res.Signal.CloseReason)
	assert.Equal(t, 41000.0, res.Signal.PriceClose)
}

func TestSameCandleConflictOptimisticTakesProfit(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *config.Config) {
		cfg.Risk.OptimisticSameCandle = true
	}))
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)
	_, err := h.tick(10, true)
	require.NoError(t, err)

	h.feed.set(12, 42000, 43100, 40900, 41000)

	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseTakeProfit, res.Signal.CloseReason)
	assert.Equal(t, 43000.0, res.Signal.PriceClose)
}

func TestShortSignalLifecycle(t *testing.T) {
	h := newHarness(t)
	h.push(&model.SignalDTO{
		Position:            model.PositionShort,
		PriceOpen:           0,
		PriceTakeProfit:     41000,
		PriceStopLoss:       43000,
		MinuteEstimatedTime: 60,
	})
	_, err := h.tick(10, true)
	require.NoError(t, err)

	// Price falls to the short target.
	h.feed.set(12, 42000, 42100, 40900, 41000)

	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, model.CloseTakeProfit, res.Signal.CloseReason)
	require.NotNil(t, res.PnL)
	assert.Greater(t, res.PnL.PnlPercentage, 0.0)
}

func TestGetSignalThrottledByInterval(t *testing.T) {
	h := newHarness(t, withInterval("5m"))

	_, err := h.tick(10, true)
	require.NoError(t, err)
	_, err = h.tick(12, true)
	require.NoError(t, err)
	_, err = h.tick(15, true)
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 2, h.signalCalls, "ticks inside the interval skip the callback")
}

func TestGetSignalErrorIsolated(t *testing.T) {
	h := newHarness(t)
	boom := false
	h.client.schema.GetSignal = func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
		if !boom {
			boom = true
			return nil, assert.AnError
		}
		return longDTO(), nil
	}

	res, err := h.tick(10, true)
	require.NoError(t, err, "user callback failure must not surface")
	assert.Equal(t, model.TickIdle, res.Kind)

	h.bus.Flush()
	h.mu.Lock()
	require.NotEmpty(t, h.errorEvents)
	assert.Equal(t, "getSignal", h.errorEvents[0].Source)
	h.mu.Unlock()

	// The next tick proceeds normally.
	res, err = h.tick(11, true)
	require.NoError(t, err)
	assert.Equal(t, model.TickScheduled, res.Kind)
}

func TestInvalidSignalRejected(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.PriceTakeProfit = 41500 // below entry for a long
	h.push(dto)

	res, err := h.tick(10, true)
	require.NoError(t, err)
	assert.Equal(t, model.TickIdle, res.Kind)
	assert.False(t, h.client.HasOpenSignal(testSymbol))

	h.bus.Flush()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.errorEvents)
	assert.Equal(t, "validateSignal", h.errorEvents[0].Source)
}

func TestDuplicateIDRejected(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.ID = "fixed-id"
	dto.PriceOpen = 0
	h.push(dto)

	res, err := h.tick(10, true)
	require.NoError(t, err)
	require.Equal(t, model.TickOpened, res.Kind)

	dup := longDTO()
	dup.ID = "fixed-id"
	dup.PriceOpen = 0
	h.push(dup)

	res, err = h.tickSymbol(11, true, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.TickIdle, res.Kind, "an id may not be reused while its signal is live")
}

func TestAtMostOneActiveSignalPerSymbol(t *testing.T) {
	h := newHarness(t)
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)
	h.push(longDTO())

	_, err := h.tick(10, true)
	require.NoError(t, err)

	res, err := h.tick(11, true)
	require.NoError(t, err)
	assert.Equal(t, model.TickActive, res.Kind, "second candidate is not consulted while a signal is open")

	h.mu.Lock()
	assert.Len(t, h.queue, 1, "the queued candidate was never consumed")
	h.mu.Unlock()
}

func TestRiskRejectionReturnsIdle(t *testing.T) {
	h := newHarness(t, withRisk(schema.RiskSchema{
		Name: "deny-all",
		Validations: []func(ctx context.Context, rc schema.RiskContext) error{
			func(ctx context.Context, rc schema.RiskContext) error { return assert.AnError },
		},
	}))
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)

	var riskEvents int
	h.bus.Subscribe(events.TopicRisk, func(events.Event) { riskEvents++ })

	res, err := h.tick(10, true)
	require.NoError(t, err)
	assert.Equal(t, model.TickIdle, res.Kind)
	assert.False(t, h.client.HasOpenSignal(testSymbol))

	h.bus.Flush()
	assert.Equal(t, 1, riskEvents)
}

func TestRiskSlotReleasedOnClose(t *testing.T) {
	var rc *risk.Client
	h := newHarness(t, func(h *harness, s *schema.StrategySchema, d *Deps) {
		rc = risk.NewClient(schema.RiskSchema{Name: "capped", MaxConcurrentPositions: 1}, zerolog.Nop())
		s.RiskName = "capped"
		d.Risk = rc
	})
	dto := longDTO()
	dto.PriceOpen = 0
	h.push(dto)

	_, err := h.tick(10, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rc.OpenPositions())

	h.feed.set(12, 42100, 43100, 42000, 43000)
	res, err := h.tick(13, true)
	require.NoError(t, err)
	require.Equal(t, model.TickClosed, res.Kind)
	assert.Equal(t, 0, rc.OpenPositions())
}

func TestSoftStopBlocksNewSignals(t *testing.T) {
	h := newHarness(t)
	h.push(longDTO())

	h.client.Stop(testSymbol)
	res, err := h.tick(10, true)
	require.NoError(t, err)
	assert.Equal(t, model.TickIdle, res.Kind)

	h.mu.Lock()
	assert.Equal(t, 0, h.signalCalls, "stopped symbols never consult the strategy")
	h.mu.Unlock()
}
