package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Load and Save copy the table, so callers
// observe the same load-mutate-save semantics as the durable drivers.
type Memory struct {
	mu    sync.Mutex
	table Table
	saves int
}

func NewMemory() *Memory { return &Memory{table: Table{}} }

// NewMemoryWith returns a Memory store preloaded with a copy of t.
func NewMemoryWith(t Table) *Memory { return &Memory{table: t.Clone()} }

func (m *Memory) Load(ctx context.Context) Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Clone()
}

func (m *Memory) Save(ctx context.Context, t Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.table = t.Clone()
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves returns how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
