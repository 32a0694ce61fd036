package serverutil

import (
	"context"
	"log/slog"
	"time"
)

// Ticker abstracts time.Ticker so tests can drive periodic tasks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// NewTicker wraps time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// Periodic builds a Task that calls fn once at start and then on every tick.
// Errors from fn are logged and do not stop the loop. A non-positive interval
// yields a task that only runs fn once.
func Periodic(name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) Task {
	return PeriodicWithTicker(name, interval, logger, fn, NewTicker)
}

func PeriodicWithTicker(name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error, newTicker func(time.Duration) Ticker) Task {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", name)
	invoke := func(ctx context.Context) {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("periodic task failed", "error", err)
		}
	}
	return Task{
		Name: name,
		Run: func(ctx context.Context) error {
			invoke(ctx)
			if interval <= 0 {
				return nil
			}
			ticker := newTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C():
					invoke(ctx)
				}
			}
		},
	}
}
