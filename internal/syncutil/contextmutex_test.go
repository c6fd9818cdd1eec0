package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockContext_MutualExclusion(t *testing.T) {
	m := NewContextShardedMutex()

	var counter int64
	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(context.Background(), "user-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			// Split load/store exposes a broken lock.
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), atomic.LoadInt64(&counter))
}

func TestLockContext_ContextCancelled(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "blocked")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	release, err := m.LockContext(ctx, "blocked")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, release)
}

func TestLockContext_UnlockAllowsNext(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "relay")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(context.Background(), "relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired lock before first released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second goroutine did not acquire lock after first released")
	}
}

func TestNewContextShardedMutexN_ClampsShards(t *testing.T) {
	m := NewContextShardedMutexN(0)
	unlock, err := m.LockContext(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
