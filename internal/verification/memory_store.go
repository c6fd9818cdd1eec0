package verification

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	events []*Event // append order
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string, f Filter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Event, 0)
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Cursor.Before(e.CreatedAt, e.ID) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Count(_ context.Context, userID string, q CountQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if q.Method != "" && e.Method != q.Method {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		n++
	}
	return n, nil
}
