package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDo_SuccessOnRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	calls := 0
	sentinel := errors.New("always fails")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	calls := 0
	sentinel := errors.New("constraint violation")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithUnlock_ReleasesLockDuringBackoff(t *testing.T) {
	held := true
	var events []string
	calls := 0

	err := DoWithUnlock(context.Background(), 3, time.Millisecond,
		func() { held = false; events = append(events, "unlock") },
		func() { held = true; events = append(events, "relock") },
		func() error {
			calls++
			assert.True(t, held, "fn must run with the lock held")
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

	assert.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, []string{"unlock", "relock", "unlock", "relock"}, events)
}

func TestDoWithUnlock_RelocksOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	held := true
	err := DoWithUnlock(ctx, 3, time.Hour,
		func() { held = false; cancel() },
		func() { held = true },
		func() error { return errors.New("transient") })

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, held)
}

func TestJittered_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestNonTransient(t *testing.T) {
	assert.NoError(t, NonTransient(nil))

	transient := errors.New("connection reset")
	assert.Same(t, transient, NonTransient(transient))

	serialization := &pq.Error{Code: "40001"}
	assert.Equal(t, error(serialization), NonTransient(serialization))

	for _, code := range []pq.ErrorCode{"23514", "23505", "22003"} {
		var pe *PermanentError
		assert.ErrorAs(t, NonTransient(&pq.Error{Code: code}), &pe, string(code))
	}

	var pe *PermanentError
	assert.ErrorAs(t, NonTransient(context.Canceled), &pe)
}

func TestDo_ConstraintViolationNotRetried(t *testing.T) {
	calls := 0
	violation := &pq.Error{Code: "23514", Message: "violates check constraint"}
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return NonTransient(violation)
	})
	assert.ErrorIs(t, err, violation)
	assert.Equal(t, 1, calls)
}
