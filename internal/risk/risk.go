// Package risk evaluates signal candidates against a user risk schema: an
// ordered predicate list plus an optional concurrent-position cap. Only
// pending signals hold a position slot; scheduled signals do not.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"signal-engine/internal/schema"
)

// ErrRiskRejected marks a candidate discarded by the risk schema. The engine
// continues; the caller reports it on the risk subject.
var ErrRiskRejected = errors.New("signal rejected by risk policy")

// Client tracks open-position slots for one risk schema instance.
type Client struct {
	name   string
	schema schema.RiskSchema
	log    zerolog.Logger

	mu   sync.Mutex
	open map[string]bool // symbols currently holding a slot
}

func NewClient(s schema.RiskSchema, log zerolog.Logger) *Client {
	return &Client{
		name:   s.Name,
		schema: s,
		log:    log.With().Str("component", "risk").Str("risk", s.Name).Logger(),
		open:   make(map[string]bool),
	}
}

func (c *Client) Name() string { return c.name }

// CheckSignal runs the ordered predicates and the position cap. It does not
// take a slot; call Acquire after the transition into pending commits.
func (c *Client) CheckSignal(ctx context.Context, rc schema.RiskContext) error {
	for i, validate := range c.schema.Validations {
		if err := validate(ctx, rc); err != nil {
			return fmt.Errorf("%w: validation %d: %v", ErrRiskRejected, i, err)
		}
	}

	if cap := c.schema.MaxConcurrentPositions; cap > 0 {
		c.mu.Lock()
		count := len(c.open)
		held := c.open[rc.Symbol]
		c.mu.Unlock()
		if !held && count >= cap {
			return fmt.Errorf("%w: max concurrent positions reached (%d/%d)", ErrRiskRejected, count, cap)
		}
	}
	return nil
}

// Acquire takes the position slot for a symbol.
func (c *Client) Acquire(symbol string) {
	c.mu.Lock()
	c.open[symbol] = true
	c.mu.Unlock()
}

// Release frees the slot on closure.
func (c *Client) Release(symbol string) {
	c.mu.Lock()
	delete(c.open, symbol)
	c.mu.Unlock()
}

// OpenPositions returns the number of held slots.
func (c *Client) OpenPositions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}
