package sequence

import (
	"context"
	"sync"
)

// Sequencer hands out strictly increasing numbers per key, starting at 1.
// Reseed raises a key's counter so the next draw is above floor; it never
// lowers it.
type Sequencer interface {
	Next(ctx context.Context, key string) (int64, error)
	Reseed(ctx context.Context, key string, floor int64) error
}

type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemory() *Memory {
	return &Memory{counters: make(map[string]int64)}
}

func (m *Memory) Next(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) Reseed(_ context.Context, key string, floor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] = max(m.counters[key], floor)
	return nil
}
