// Package syncutil provides keyed locking for per-user read-modify-write
// sections.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewContextShardedMutex.
const DefaultShards = 256

// ContextShardedMutex is a fixed pool of channel-based mutexes selected by
// key hash. Waiters can give up when their context ends. Memory stays
// bounded however many keys are seen; distinct keys may share a shard.
type ContextShardedMutex struct {
	shards []chan struct{}
}

// NewContextShardedMutex creates a mutex pool with DefaultShards shards.
func NewContextShardedMutex() *ContextShardedMutex {
	return NewContextShardedMutexN(DefaultShards)
}

// NewContextShardedMutexN creates a mutex pool with n shards (at least 1).
func NewContextShardedMutexN(n int) *ContextShardedMutex {
	if n < 1 {
		n = 1
	}
	m := &ContextShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // unlocked
	}
	return m
}

// LockContext acquires the lock for key. On success the caller MUST call
// the returned unlock function exactly once. When ctx ends first it returns
// a nil unlock and ctx.Err().
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(m.shards))
}
