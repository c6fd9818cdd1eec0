package rewards

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in memory for development mode and tests.
type MemoryStore struct {
	history map[string]map[string]*DayRecord // user -> date -> row
	totals  map[string]decimal.Decimal
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory rewards store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string]map[string]*DayRecord),
		totals:  make(map[string]decimal.Decimal),
	}
}

func (m *MemoryStore) RecordDay(_ context.Context, rec *DayRecord) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	days, ok := m.history[rec.UserID]
	if !ok {
		days = make(map[string]*DayRecord)
		m.history[rec.UserID] = days
	}
	cp := *rec
	days[rec.Date] = &cp

	total := decimal.Zero
	for _, r := range days {
		total = total.Add(r.PointsEarned)
	}
	m.totals[rec.UserID] = total
	return total, nil
}

func (m *MemoryStore) Total(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals[userID], nil
}

func (m *MemoryStore) History(_ context.Context, userID, since string) ([]*DayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DayRecord
	for date, r := range m.history[userID] {
		if date >= since {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}
