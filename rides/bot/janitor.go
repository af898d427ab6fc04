package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/ridesbot/core/logger"
)

// Sweeper runs the periodic maintenance jobs.
type Sweeper interface {
	ExpireRides(ctx context.Context) (int, error)
	ReapSessions(ctx context.Context) (int, error)
}

// Janitor runs the expiry and idle-session sweeps on their own tickers.
// A zero interval disables that sweep.
type Janitor struct {
	sweeper     Sweeper
	expireEvery time.Duration
	reapEvery   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor builds a stopped janitor.
func NewJanitor(s Sweeper, expireEvery, reapEvery time.Duration) *Janitor {
	return &Janitor{sweeper: s, expireEvery: expireEvery, reapEvery: reapEvery}
}

// Start launches the sweep loops. Calling Start twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))

	j.loop(ctx, "ride.expire", j.expireEvery, j.sweeper.ExpireRides)
	j.loop(ctx, "session.reap", j.reapEvery, j.sweeper.ReapSessions)
	logger.Info(ctx, "app", "janitor.start",
		slog.String("status", "ok"),
		slog.Duration("expire_every", j.expireEvery),
		slog.Duration("reap_every", j.reapEvery),
	)
}

// Stop cancels the loops and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context, job string, every time.Duration, run func(context.Context) (int, error)) {
	if every <= 0 {
		return
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				n, err := run(ctx)
				if err != nil {
					// the service already logged the failure
					continue
				}
				if n > 0 {
					logger.Debug(ctx, "app", "janitor.run",
						slog.String("status", "ok"),
						slog.String("job", job),
						slog.Int("affected", n),
						slog.Duration("duration", logger.Took(start)),
					)
				}
			}
		}
	}()
}
