// Package persistence defines the pluggable entity store behind signal
// crash recovery. The default adapter keeps one JSON file per entity with
// atomic writes; redis and postgres backends are available for shared
// deployments, and a memory adapter backs tests.
package persistence

import (
	"context"
	"errors"
)

// ErrPersistence wraps backend failures so callers can classify them as
// recoverable.
var ErrPersistence = errors.New("persistence failure")

// ErrNotFound is returned by ReadValue for absent entity ids.
var ErrNotFound = errors.New("entity not found")

// Adapter is the keyed entity store contract. Values are opaque JSON bytes.
// Implementations must be safe for concurrent calls on distinct entity ids.
type Adapter interface {
	// WaitForInit prepares the backend. initial is true on the first call
	// of a process; subsequent calls are idempotent.
	WaitForInit(ctx context.Context, initial bool) error

	ReadValue(ctx context.Context, entityID string) ([]byte, error)
	HasValue(ctx context.Context, entityID string) (bool, error)
	WriteValue(ctx context.Context, entityID string, value []byte) error
	RemoveValue(ctx context.Context, entityID string) error

	Keys(ctx context.Context) ([]string, error)
	Values(ctx context.Context) ([][]byte, error)
}
