package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer runs the consistency check on a fixed interval.
type Timer struct {
	checker  *Checker
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a consistency-check timer. Schedule the interval so that
// runs do not overlap the Window; a second run over the same entries
// records duplicate events.
func NewTimer(checker *Checker, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		checker:  checker,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the check loop. Call in a goroutine.
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
			t.logger.Error("panic in consistency timer", "panic", fmt.Sprint(r))
		}
	}()
	if _, err := t.checker.Run(ctx); err != nil {
		t.logger.Warn("scheduled consistency check failed", "error", err)
	}
}
