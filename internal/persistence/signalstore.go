package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"signal-engine/config"
	"signal-engine/internal/model"
)

// SignalStore serializes signal rows through an adapter, one record per
// (strategy, symbol). Writes on the same entity id are serialized by a
// per-id lock; distinct ids may proceed concurrently.
type SignalStore struct {
	adapter Adapter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSignalStore builds the store over an explicit adapter.
func NewSignalStore(adapter Adapter) *SignalStore {
	return &SignalStore{adapter: adapter, locks: make(map[string]*sync.Mutex)}
}

// NewSignalStoreFromConfig selects the backend named in the configuration.
func NewSignalStoreFromConfig(cfg config.PersistenceConfig) (*SignalStore, error) {
	var adapter Adapter
	switch cfg.Backend {
	case "file":
		adapter = NewFileAdapter(cfg.Dir, "signal")
	case "memory":
		adapter = NewMemoryAdapter()
	case "redis":
		adapter = NewRedisAdapter(cfg.RedisAddr, cfg.RedisDB, "signal")
	case "postgres":
		adapter = NewPostgresAdapter(cfg.PostgresDSN, "signal")
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
	return NewSignalStore(adapter), nil
}

// EntityID is strategyName:symbol, the at-most-one-active-signal key.
func EntityID(strategyName, symbol string) string {
	return strategyName + ":" + symbol
}

func (s *SignalStore) lock(entityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[entityID] = l
	}
	return l
}

// Init prepares the backing adapter.
func (s *SignalStore) Init(ctx context.Context, initial bool) error {
	return s.adapter.WaitForInit(ctx, initial)
}

// Read returns the persisted row for (strategy, symbol), or nil when absent.
func (s *SignalStore) Read(ctx context.Context, strategyName, symbol string) (*model.SignalRow, error) {
	id := EntityID(strategyName, symbol)
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	data, err := s.adapter.ReadValue(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var row model.SignalRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrPersistence, id, err)
	}
	return &row, nil
}

// Write persists the row atomically.
func (s *SignalStore) Write(ctx context.Context, row *model.SignalRow) error {
	id := EntityID(row.StrategyName, row.Symbol)
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrPersistence, id, err)
	}
	return s.adapter.WriteValue(ctx, id, data)
}

// Remove clears the record on closure.
func (s *SignalStore) Remove(ctx context.Context, strategyName, symbol string) error {
	id := EntityID(strategyName, symbol)
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()
	return s.adapter.RemoveValue(ctx, id)
}
