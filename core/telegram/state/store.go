// Package state keeps per-user conversation state for Telegram bots.
// It is domain-agnostic: callers choose the value type and the backend.
package state

import (
	"context"
	"errors"
	"time"
)

// DefaultIdleTimeout applies when a store is built with a non-positive TTL.
const DefaultIdleTimeout = 30 * time.Minute

// ErrConflict is returned when an optimistic update keeps losing to concurrent writers.
var ErrConflict = errors.New("state: concurrent update conflict")

// MutateFunc receives a copy of the current value (nil when absent) and returns
// the value to store. Returning nil removes the entry; returning an error leaves
// the entry untouched and is passed back to the caller.
type MutateFunc[T any] func(cur *T) (*T, error)

// Store maps Telegram user ids to conversation values of type T.
//
// Values handed in and out are copies. An entry not written for longer than the
// idle timeout is treated as absent and is reported once by Sweep.
type Store[T any] interface {
	Load(ctx context.Context, userID int64) (*T, bool, error)
	Save(ctx context.Context, userID int64, v *T) error
	// Mutate performs an atomic read-modify-write of one user's entry.
	Mutate(ctx context.Context, userID int64, fn MutateFunc[T]) (*T, error)
	Delete(ctx context.Context, userID int64) error
	// Sweep drops entries idle at now and returns the affected user ids.
	Sweep(ctx context.Context, now time.Time) ([]int64, error)
}

// Option customises a store.
type Option func(*options)

type options struct {
	ttl   time.Duration
	now   func() time.Time
	clone any
}

// WithIdleTimeout sets how long an untouched entry survives.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock overrides the time source used to stamp writes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClone installs a deep copy function for values that hold pointers.
// Without it the memory store copies values shallowly.
func WithClone[T any](fn func(*T) *T) Option {
	return func(o *options) {
		if fn != nil {
			o.clone = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultIdleTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func cloneWith[T any](o options, v *T) *T {
	if v == nil {
		return nil
	}
	if fn, ok := o.clone.(func(*T) *T); ok {
		return fn(v)
	}
	c := *v
	return &c
}
