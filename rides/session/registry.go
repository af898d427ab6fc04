// Package session owns the mapping from Telegram users to their open
// ride-creation wizards.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/core/telegram/state"
	"github.com/m3rciful/ridesbot/rides/wizard"
)

var (
	// ErrNoSession means the user has no open wizard.
	ErrNoSession = errors.New("session: no open wizard")
	// ErrStaleStep means the input targeted a step the wizard is no longer on,
	// e.g. an old inline button.
	ErrStaleStep = errors.New("session: input does not match the current step")
)

// Registry creates, advances and ends wizard sessions. It holds no domain
// logic beyond the existence and exclusivity of one session per user.
type Registry struct {
	store state.Store[wizard.Session]
	now   func() time.Time
}

// NewRegistry wraps a backing store.
func NewRegistry(store state.Store[wizard.Session], now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}
}

// NewMemoryRegistry is a Registry over a process-local store.
func NewMemoryRegistry(idle time.Duration, now func() time.Time) *Registry {
	opts := []state.Option{
		state.WithIdleTimeout(idle),
		state.WithClone((*wizard.Session).Clone),
	}
	if now != nil {
		opts = append(opts, state.WithClock(now))
	}
	return NewRegistry(state.NewMemoryStore[wizard.Session](opts...), now)
}

// Begin starts a fresh wizard, discarding whatever the user had open.
func (r *Registry) Begin(ctx context.Context, userID int64) (*wizard.Session, error) {
	s := wizard.New(userID, r.now())
	if err := r.store.Save(ctx, userID, s); err != nil {
		return nil, err
	}
	logger.Debug(ctx, "service.sessions", "session.begin",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
	)
	return s, nil
}

// Get returns the user's open wizard, if any.
func (r *Registry) Get(ctx context.Context, userID int64) (*wizard.Session, bool, error) {
	return r.store.Load(ctx, userID)
}

// InProgress reports whether the user has an open wizard. Store failures read as false.
func (r *Registry) InProgress(ctx context.Context, userID int64) bool {
	_, ok, err := r.store.Load(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "service.sessions", "session.lookup",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return false
	}
	return ok
}

// Advance feeds input to the user's wizard atomically. An Aborted outcome
// removes the session; every other outcome persists the updated step.
func (r *Registry) Advance(ctx context.Context, userID int64, input string) (wizard.Result, error) {
	return r.AdvanceAt(ctx, userID, nil, input)
}

// AdvanceAt is Advance guarded by accept: when the current step is refused
// nothing changes and ErrStaleStep is returned alongside the current step.
func (r *Registry) AdvanceAt(ctx context.Context, userID int64, accept func(wizard.Step) bool, input string) (wizard.Result, error) {
	var res wizard.Result
	_, err := r.store.Mutate(ctx, userID, func(cur *wizard.Session) (*wizard.Session, error) {
		if cur == nil {
			return nil, ErrNoSession
		}
		if accept != nil && !accept(cur.Step) {
			res = wizard.Result{Outcome: wizard.Rejected, Step: cur.Step, Ride: cur.Draft()}
			return nil, ErrStaleStep
		}
		res = wizard.Advance(cur, input, r.now())
		if res.Outcome == wizard.Aborted {
			return nil, nil
		}
		return cur, nil
	})
	if errors.Is(err, ErrStaleStep) {
		return res, err
	}
	if err != nil {
		return wizard.Result{}, err
	}
	logger.Debug(ctx, "service.sessions", "session.advance",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("outcome", res.Outcome.String()),
		slog.String("step", string(res.Step)),
	)
	return res, nil
}

// End removes the user's session. Ending an absent session is a no-op.
func (r *Registry) End(ctx context.Context, userID int64) error {
	return r.store.Delete(ctx, userID)
}

// Finish ends the session that committed a ride. A wizard the user began
// while the create was in flight is left alone.
func (r *Registry) Finish(ctx context.Context, userID int64, startedAt time.Time) error {
	_, err := r.store.Mutate(ctx, userID, func(cur *wizard.Session) (*wizard.Session, error) {
		if cur == nil || (cur.Committing && cur.StartedAt.Equal(startedAt)) {
			return nil, nil
		}
		return cur, nil
	})
	return err
}

// ReleaseCommit lets the user retry a confirm whose create failed.
func (r *Registry) ReleaseCommit(ctx context.Context, userID int64) error {
	_, err := r.store.Mutate(ctx, userID, func(cur *wizard.Session) (*wizard.Session, error) {
		if cur == nil {
			return nil, ErrNoSession
		}
		cur.ReleaseCommit()
		return cur, nil
	})
	return err
}

// Sweep reclaims idle sessions and returns the users whose draft was dropped.
func (r *Registry) Sweep(ctx context.Context) ([]int64, error) {
	reaped, err := r.store.Sweep(ctx, r.now())
	if err != nil {
		return nil, err
	}
	if len(reaped) > 0 {
		logger.Info(ctx, "service.sessions", "session.sweep",
			slog.String("status", "ok"),
			slog.Int("reaped", len(reaped)),
		)
	}
	return reaped, nil
}
