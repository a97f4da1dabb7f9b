package ledger

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Ledger used by tests and local development.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Ledger.
func (m *Memory) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok, nil
}

// Upsert implements Ledger.
func (m *Memory) Upsert(_ context.Context, name, value, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

// Delete implements Ledger.
func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}

// ScanPrefix implements Ledger.
func (m *Memory) ScanPrefix(_ context.Context, prefix string) (map[int]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]string)
	for name, v := range m.values {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id, err := strconv.Atoi(name[len(prefix):])
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// Len reports the number of stored rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
