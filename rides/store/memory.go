// Package store provides ride.Store backends: an in-memory map for development
// and tests, and a Postgres implementation built on sqlx.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/ridesbot/rides/ride"
)

type memoryEntry struct {
	ride ride.Ride
	seq  uint64
}

// Memory keeps rides in a map. A single mutex serializes all writes, which
// makes every operation linearizable.
type Memory struct {
	mu    sync.RWMutex
	rides map[string]*memoryEntry
	seq   uint64
	now   func() time.Time
	newID func() string
}

// MemoryOption customises a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides ride id generation.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *Memory) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		rides: make(map[string]*memoryEntry),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates and stores a new active ride.
func (m *Memory) Create(ctx context.Context, n ride.NewRide) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ride.Storage("create", err)
	}
	n = n.Normalize()
	if err := n.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	id := m.newID()
	m.seq++
	m.rides[id] = &memoryEntry{
		seq: m.seq,
		ride: ride.Ride{
			ID:        id,
			OwnerID:   n.OwnerID,
			From:      n.From,
			To:        n.To,
			Capacity:  n.Capacity,
			TimeRange: n.TimeRange,
			Comment:   n.Comment,
			Status:    ride.StatusActive,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	return id, nil
}

// Update applies p to the owner's ride.
func (m *Memory) Update(ctx context.Context, ownerID int64, rideID string, p ride.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ride.Storage("update", err)
	}
	if err := p.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.owned(ownerID, rideID)
	if !ok {
		return false, nil
	}
	next := e.ride
	p.Apply(&next)
	if err := next.Validate(); err != nil {
		return false, err
	}
	next.Version++
	next.UpdatedAt = m.now().UTC()
	e.ride = next
	return true, nil
}

// Fetch returns copies of the owner's rides, newest first.
func (m *Memory) Fetch(ctx context.Context, ownerID int64, activeOnly bool) ([]ride.Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, ride.Storage("fetch", err)
	}

	m.mu.RLock()
	entries := make([]memoryEntry, 0)
	for _, e := range m.rides {
		if e.ride.OwnerID != ownerID {
			continue
		}
		if activeOnly && !e.ride.Active() {
			continue
		}
		entries = append(entries, *e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.ride.CreatedAt.Equal(b.ride.CreatedAt) {
			return a.ride.CreatedAt.After(b.ride.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]ride.Ride, len(entries))
	for i, e := range entries {
		out[i] = e.ride
	}
	return out, nil
}

// Delete cancels (soft) or removes (hard) the owner's ride.
func (m *Memory) Delete(ctx context.Context, ownerID int64, rideID string, deactivateOnly bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ride.Storage("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.owned(ownerID, rideID)
	if !ok {
		return false, nil
	}
	if !deactivateOnly {
		delete(m.rides, rideID)
		return true, nil
	}
	if e.ride.Status != ride.StatusCancelled {
		e.ride.Status = ride.StatusCancelled
		e.ride.Version++
		e.ride.UpdatedAt = m.now().UTC()
	}
	return true, nil
}

// ExpireBefore marks active rides created before cutoff as expired.
func (m *Memory) ExpireBefore(ctx context.Context, cutoff time.Time) ([]ride.Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, ride.Storage("expire", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var expired []ride.Ride
	for _, e := range m.rides {
		if !e.ride.Active() || !e.ride.CreatedAt.Before(cutoff) {
			continue
		}
		e.ride.Status = ride.StatusExpired
		e.ride.Version++
		e.ride.UpdatedAt = now
		expired = append(expired, e.ride)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}

func (m *Memory) owned(ownerID int64, rideID string) (*memoryEntry, bool) {
	e, ok := m.rides[rideID]
	if !ok || e.ride.OwnerID != ownerID {
		return nil, false
	}
	return e, true
}

var _ ride.Store = (*Memory)(nil)
