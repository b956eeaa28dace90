// Package conn memoizes client construction over the schema registry. The
// same (kind, name, mode) tuple always resolves to the same client instance,
// so repeated lookups inside a run share one state machine and one set of
// open-position slots.
package conn

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/events"
	"signal-engine/internal/exchange"
	"signal-engine/internal/partial"
	"signal-engine/internal/persistence"
	"signal-engine/internal/risk"
	"signal-engine/internal/schema"
	"signal-engine/internal/strategy"
)

// Mode separates backtest and live client instances. A walker backtest must
// never touch the state of a live strategy with the same name.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Manager resolves schemas into live clients and caches them.
type Manager struct {
	reg   *schema.Registry
	bus   *events.Bus
	store *persistence.SignalStore
	cfg   *config.Config
	log   zerolog.Logger

	mu         sync.Mutex
	exchanges  map[string]*exchange.Client
	risks      map[string]*risk.Client
	strategies map[string]*strategy.Client
	partial    *partial.Client
}

func NewManager(reg *schema.Registry, bus *events.Bus, store *persistence.SignalStore, cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		reg:        reg,
		bus:        bus,
		store:      store,
		cfg:        cfg,
		log:        log,
		exchanges:  make(map[string]*exchange.Client),
		risks:      make(map[string]*risk.Client),
		strategies: make(map[string]*strategy.Client),
	}
}

// Exchange returns the memoized exchange client for a registered schema.
func (m *Manager) Exchange(name string) (*exchange.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.exchanges[name]; ok {
		return c, nil
	}
	s, err := m.reg.GetExchange(name)
	if err != nil {
		return nil, err
	}
	c := exchange.NewClient(s, m.cfg, m.log)
	m.exchanges[name] = c
	return c, nil
}

// Risk returns the memoized risk client. All strategies naming the same risk
// schema share its position slots.
func (m *Manager) Risk(name string) (*risk.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.riskLocked(name)
}

func (m *Manager) riskLocked(name string) (*risk.Client, error) {
	if c, ok := m.risks[name]; ok {
		return c, nil
	}
	s, err := m.reg.GetRisk(name)
	if err != nil {
		return nil, err
	}
	c := risk.NewClient(s, m.log)
	m.risks[name] = c
	return c, nil
}

// Partial returns the shared milestone publisher.
func (m *Manager) Partial() *partial.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.partial == nil {
		m.partial = partial.NewClient(m.bus, m.log)
	}
	return m.partial
}

// Frame resolves a registered frame schema.
func (m *Manager) Frame(name string) (schema.FrameSchema, error) {
	return m.reg.GetFrame(name)
}

func strategyKey(strategyName, exchangeName string, mode Mode) string {
	return fmt.Sprintf("%s|%s|%s", strategyName, exchangeName, mode)
}

// Strategy returns the memoized state machine for a (strategy, exchange,
// mode) tuple, wiring in the exchange, risk, partial and persistence
// collaborators.
func (m *Manager) Strategy(strategyName, exchangeName string, mode Mode) (*strategy.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strategyKey(strategyName, exchangeName, mode)
	if c, ok := m.strategies[key]; ok {
		return c, nil
	}

	s, err := m.reg.GetStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	exch, ok := m.exchanges[exchangeName]
	if !ok {
		es, err := m.reg.GetExchange(exchangeName)
		if err != nil {
			return nil, err
		}
		exch = exchange.NewClient(es, m.cfg, m.log)
		m.exchanges[exchangeName] = exch
	}

	var rc *risk.Client
	if s.RiskName != "" {
		rc, err = m.riskLocked(s.RiskName)
		if err != nil {
			return nil, err
		}
	}

	if m.partial == nil {
		m.partial = partial.NewClient(m.bus, m.log)
	}

	c := strategy.NewClient(s, strategy.Deps{
		Exchange: exch,
		Risk:     rc,
		Partial:  m.partial,
		Store:    m.store,
		Bus:      m.bus,
		Config:   m.cfg,
		Log:      m.log,
	})
	m.strategies[key] = c
	return c, nil
}

// ClearStrategy drops every memoized client for a strategy name, across
// exchanges and modes. The next lookup rebuilds from the registry, which is
// how overridden schemas take effect.
func (m *Manager) ClearStrategy(strategyName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.strategies {
		if len(key) > len(strategyName) && key[:len(strategyName)+1] == strategyName+"|" {
			delete(m.strategies, key)
		}
	}
}

// ClearAll drops every memoized client.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = make(map[string]*exchange.Client)
	m.risks = make(map[string]*risk.Client)
	m.strategies = make(map[string]*strategy.Client)
	m.partial = nil
}
