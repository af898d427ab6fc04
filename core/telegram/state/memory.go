package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry[T any] struct {
	value   *T
	touched time.Time
}

// MemoryStore keeps entries in a process-local map guarded by one mutex.
// Expired entries are hidden on read and removed by Sweep.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	entries map[int64]memoryEntry[T]
	opts    options
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore[T any](opts ...Option) *MemoryStore[T] {
	return &MemoryStore[T]{
		entries: make(map[int64]memoryEntry[T]),
		opts:    buildOptions(opts),
	}
}

func (m *MemoryStore[T]) expired(e memoryEntry[T], now time.Time) bool {
	return now.Sub(e.touched) >= m.opts.ttl
}

// Load returns a copy of the user's entry.
func (m *MemoryStore[T]) Load(ctx context.Context, userID int64) (*T, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok || m.expired(e, m.opts.now()) {
		return nil, false, nil
	}
	return cloneWith(m.opts, e.value), true, nil
}

// Save replaces the user's entry.
func (m *MemoryStore[T]) Save(ctx context.Context, userID int64, v *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if v == nil {
		delete(m.entries, userID)
		return nil
	}
	m.entries[userID] = memoryEntry[T]{value: cloneWith(m.opts, v), touched: m.opts.now()}
	return nil
}

// Mutate runs fn under the store lock.
func (m *MemoryStore[T]) Mutate(ctx context.Context, userID int64, fn MutateFunc[T]) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	var cur *T
	if e, ok := m.entries[userID]; ok && !m.expired(e, now) {
		cur = cloneWith(m.opts, e.value)
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(m.entries, userID)
		return nil, nil
	}
	m.entries[userID] = memoryEntry[T]{value: cloneWith(m.opts, next), touched: now}
	return cloneWith(m.opts, next), nil
}

// Delete removes the user's entry; absent entries are ignored.
func (m *MemoryStore[T]) Delete(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// Sweep removes entries idle at now.
func (m *MemoryStore[T]) Sweep(ctx context.Context, now time.Time) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []int64
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			reaped = append(reaped, id)
		}
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i] < reaped[j] })
	return reaped, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Store[struct{}] = (*MemoryStore[struct{}])(nil)
