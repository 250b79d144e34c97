package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// table is one on-disk JSON collection with an in-memory cache.
//
// The file is shaped {<name>: [ …rows… ]}. Every mutation persists with a
// write-temp-then-rename sequence before the table lock is released, so
// readers and process restarts never observe a partial file.
type table[T any] struct {
	mu   sync.RWMutex
	path string
	name string
	rows []T
}

func openTable[T any](dir, name string) (*table[T], error) {
	t := &table[T]{
		path: filepath.Join(dir, name+".json"),
		name: name,
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := t.save(); err != nil {
				return nil, err
			}
			return t, nil
		}
		return nil, fmt.Errorf("reading %s: %w", t.path, err)
	}

	doc := map[string][]T{}
	if err := json.Unmarshal(data, &doc); err != nil {
		// Fall back to an empty table rather than refusing to start.
		slog.Warn("corrupted table file, resetting", "path", t.path, "err", err)
		return t, t.save()
	}
	t.rows = doc[name]
	return t, nil
}

// save persists the table atomically. Callers must hold the write lock
// (or be the only reference, during open).
func (t *table[T]) save() error {
	rows := t.rows
	if rows == nil {
		rows = []T{}
	}
	data, err := json.MarshalIndent(map[string][]T{t.name: rows}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", t.name, err)
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replacing %s: %w", t.path, err)
	}
	return nil
}
