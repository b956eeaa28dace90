package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter stores entities in a single table, one row per (kind, id),
// upserted on write.
type PostgresAdapter struct {
	dsn  string
	kind string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS engine_entities (
	kind       TEXT        NOT NULL,
	entity_id  TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, entity_id)
)`

func NewPostgresAdapter(dsn, kind string) *PostgresAdapter {
	return &PostgresAdapter{dsn: dsn, kind: kind}
}

func (p *PostgresAdapter) WaitForInit(ctx context.Context, initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("%w: postgres connect: %v", ErrPersistence, err)
	}
	if _, err := pool.Exec(ctx, createEntitiesTable); err != nil {
		pool.Close()
		return fmt.Errorf("%w: postgres migrate: %v", ErrPersistence, err)
	}
	p.pool = pool
	return nil
}

func (p *PostgresAdapter) ReadValue(ctx context.Context, entityID string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM engine_entities WHERE kind = $1 AND entity_id = $2`,
		p.kind, entityID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres read %s: %v", ErrPersistence, entityID, err)
	}
	return value, nil
}

func (p *PostgresAdapter) HasValue(ctx context.Context, entityID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM engine_entities WHERE kind = $1 AND entity_id = $2)`,
		p.kind, entityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: postgres has %s: %v", ErrPersistence, entityID, err)
	}
	return exists, nil
}

func (p *PostgresAdapter) WriteValue(ctx context.Context, entityID string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO engine_entities (kind, entity_id, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (kind, entity_id) DO UPDATE SET value = $3, updated_at = now()`,
		p.kind, entityID, value)
	if err != nil {
		return fmt.Errorf("%w: postgres write %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (p *PostgresAdapter) RemoveValue(ctx context.Context, entityID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM engine_entities WHERE kind = $1 AND entity_id = $2`,
		p.kind, entityID)
	if err != nil {
		return fmt.Errorf("%w: postgres remove %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (p *PostgresAdapter) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT entity_id FROM engine_entities WHERE kind = $1 ORDER BY entity_id`, p.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres keys: %v", ErrPersistence, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: postgres keys: %v", ErrPersistence, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *PostgresAdapter) Values(ctx context.Context) ([][]byte, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT value FROM engine_entities WHERE kind = $1 ORDER BY entity_id`, p.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres values: %v", ErrPersistence, err)
	}
	defer rows.Close()
	var values [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: postgres values: %v", ErrPersistence, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
