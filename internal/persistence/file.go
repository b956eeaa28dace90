package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileAdapter stores one JSON file per entity under dir/kind/. Writes go to
// <id>.json.tmp first and are renamed into place, so readers never observe a
// torn file.
type FileAdapter struct {
	dir  string
	kind string

	mu   sync.Mutex
	init bool
}

func NewFileAdapter(dir, kind string) *FileAdapter {
	return &FileAdapter{dir: dir, kind: kind}
}

func (f *FileAdapter) root() string {
	return filepath.Join(f.dir, f.kind)
}

func (f *FileAdapter) path(entityID string) string {
	// Entity ids contain ":" which is fine on POSIX filesystems; guard the
	// separator anyway.
	safe := strings.ReplaceAll(entityID, string(os.PathSeparator), "_")
	return filepath.Join(f.root(), safe+".json")
}

func (f *FileAdapter) WaitForInit(ctx context.Context, initial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.init {
		return nil
	}
	if err := os.MkdirAll(f.root(), 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrPersistence, f.root(), err)
	}
	f.init = true
	return nil
}

func (f *FileAdapter) ReadValue(ctx context.Context, entityID string) ([]byte, error) {
	data, err := os.ReadFile(f.path(entityID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistence, entityID, err)
	}
	return data, nil
}

func (f *FileAdapter) HasValue(ctx context.Context, entityID string) (bool, error) {
	_, err := os.Stat(f.path(entityID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrPersistence, entityID, err)
	}
	return true, nil
}

func (f *FileAdapter) WriteValue(ctx context.Context, entityID string, value []byte) error {
	if err := f.WaitForInit(ctx, false); err != nil {
		return err
	}
	target := f.path(entityID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistence, entityID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("%w: committing %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (f *FileAdapter) RemoveValue(ctx context.Context, entityID string) error {
	err := os.Remove(f.path(entityID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrPersistence, entityID, err)
	}
	return nil
}

func (f *FileAdapter) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrPersistence, f.root(), err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

func (f *FileAdapter) Values(ctx context.Context) ([][]byte, error) {
	keys, err := f.Keys(ctx)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v, err := f.ReadValue(ctx, k)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
