package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically runs the recomputation job.
type Timer struct {
	recomputer *Recomputer
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewTimer creates a recomputation timer. interval is typically 24 hours.
func NewTimer(recomputer *Recomputer, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		recomputer: recomputer,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the recompute loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in risk recompute timer", "panic", fmt.Sprint(r))
		}
	}()
	if _, err := t.recomputer.Run(ctx); err != nil {
		t.logger.Warn("scheduled risk recomputation failed", "error", err)
	}
}
