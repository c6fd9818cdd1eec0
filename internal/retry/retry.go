// Package retry runs store writes with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// NonTransient marks err permanent when retrying cannot change the outcome:
// context cancellation, Postgres data exceptions (class 22) and integrity
// constraint violations (class 23). Other errors are returned unchanged.
func NonTransient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return Permanent(err)
		}
	}
	return err
}

// Do calls fn up to maxAttempts times. It stops early on success, on a
// *PermanentError (returning the wrapped error) or when ctx ends. The delay
// starts at baseDelay and doubles per retry, with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return DoWithUnlock(ctx, maxAttempts, baseDelay, func() {}, func() {}, fn)
}

// DoWithUnlock is Do for callers holding a lock: unlock runs before each
// backoff sleep and relock after it, so other writers on the same key can
// progress. fn always runs with the lock held, and the lock is held again
// on return, including when ctx ends during a sleep.
func DoWithUnlock(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	unlock func(), relock func(), fn func() error) error {

	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts-1 {
			break
		}

		unlock()
		timer := time.NewTimer(jittered(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			relock()
			return ctx.Err()
		case <-timer.C:
		}
		relock()
		delay *= 2
	}
	return err
}

func jittered(d time.Duration) time.Duration {
	jitter := d / 4
	return d - jitter + time.Duration(randInt64n(int64(2*jitter+1)))
}

// randInt64n returns a random int64 in [0, n).
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}
