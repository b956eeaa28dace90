package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter keeps entities as JSON strings under <kind>:<entityId> keys.
// A TTL well beyond any signal lifetime guards against leaked keys when a
// process dies between write and remove.
type RedisAdapter struct {
	client *redis.Client
	kind   string
	ttl    time.Duration

	mu   sync.Mutex
	init bool
}

const defaultRedisTTL = 14 * 24 * time.Hour

func NewRedisAdapter(addr string, db int, kind string) *RedisAdapter {
	return &RedisAdapter{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		kind:   kind,
		ttl:    defaultRedisTTL,
	}
}

func (r *RedisAdapter) key(entityID string) string {
	return r.kind + ":" + entityID
}

func (r *RedisAdapter) WaitForInit(ctx context.Context, initial bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.init {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrPersistence, err)
	}
	r.init = true
	return nil
}

func (r *RedisAdapter) ReadValue(ctx context.Context, entityID string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get %s: %v", ErrPersistence, entityID, err)
	}
	return val, nil
}

func (r *RedisAdapter) HasValue(ctx context.Context, entityID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(entityID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis exists %s: %v", ErrPersistence, entityID, err)
	}
	return n > 0, nil
}

func (r *RedisAdapter) WriteValue(ctx context.Context, entityID string, value []byte) error {
	if err := r.client.Set(ctx, r.key(entityID), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (r *RedisAdapter) RemoveValue(ctx context.Context, entityID string) error {
	if err := r.client.Del(ctx, r.key(entityID)).Err(); err != nil {
		return fmt.Errorf("%w: redis del %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (r *RedisAdapter) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	prefix := r.kind + ":"
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan: %v", ErrPersistence, err)
	}
	return keys, nil
}

func (r *RedisAdapter) Values(ctx context.Context) ([][]byte, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v, err := r.ReadValue(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
