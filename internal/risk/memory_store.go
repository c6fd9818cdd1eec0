package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/fittrust/internal/typing"
)

type seenKey struct {
	userID string
	value  string
}

// MemoryStore implements Store in memory for development mode and tests.
type MemoryStore struct {
	devices  map[seenKey]time.Time // last seen
	prefixes map[seenKey]time.Time // last seen
	first    map[string]time.Time  // earliest signal per user
	typing   map[string][]TypingSample
	features map[string]*UserFeatures
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory risk store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[seenKey]time.Time),
		prefixes: make(map[seenKey]time.Time),
		first:    make(map[string]time.Time),
		typing:   make(map[string][]TypingSample),
		features: make(map[string]*UserFeatures),
	}
}

func (m *MemoryStore) noteSignal(userID string, at time.Time) {
	if cur, ok := m.first[userID]; !ok || at.Before(cur) {
		m.first[userID] = at
	}
}

func touch(set map[seenKey]time.Time, k seenKey, at time.Time) {
	if cur, ok := set[k]; !ok || at.After(cur) {
		set[k] = at
	}
}

func (m *MemoryStore) TouchDevice(_ context.Context, userID, deviceHash string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	touch(m.devices, seenKey{userID, deviceHash}, seenAt)
	m.noteSignal(userID, seenAt)
	return nil
}

func (m *MemoryStore) TouchIPPrefix(_ context.Context, userID, prefix string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	touch(m.prefixes, seenKey{userID, prefix}, seenAt)
	m.noteSignal(userID, seenAt)
	return nil
}

func (m *MemoryStore) AddTypingSample(_ context.Context, userID string, f typing.Features, capturedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dwell := f.MeanDwellMs
	s := TypingSample{MeanDwellMs: &dwell, CapturedAt: capturedAt}
	if f.MeanFlightMs != nil {
		flight := *f.MeanFlightMs
		s.MeanFlightMs = &flight
	}
	m.typing[userID] = append(m.typing[userID], s)
	m.noteSignal(userID, capturedAt)
	return nil
}

// AddRawTypingSample stores a sample as-is, including a missing dwell
// value. Used to seed legacy rows in tests.
func (m *MemoryStore) AddRawTypingSample(userID string, s TypingSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing[userID] = append(m.typing[userID], s)
	m.noteSignal(userID, s.CapturedAt)
}

func (m *MemoryStore) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for k, at := range m.devices {
		if !at.Before(since) {
			seen[k.userID] = true
		}
	}
	for k, at := range m.prefixes {
		if !at.Before(since) {
			seen[k.userID] = true
		}
	}
	for userID, samples := range m.typing {
		for _, s := range samples {
			if !s.CapturedAt.Before(since) {
				seen[userID] = true
				break
			}
		}
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func degree(set map[seenKey]time.Time, userID string, since time.Time) int {
	n := 0
	for k, at := range set {
		if k.userID == userID && !at.Before(since) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) DeviceDegree(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return degree(m.devices, userID, since), nil
}

func (m *MemoryStore) IPDegree(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return degree(m.prefixes, userID, since), nil
}

func (m *MemoryStore) RecentTypingSamples(_ context.Context, userID string, limit int) ([]TypingSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := append([]TypingSample(nil), m.typing[userID]...)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].CapturedAt.After(samples[j].CapturedAt) })
	if len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

func (m *MemoryStore) EarliestSignal(_ context.Context, userID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.first[userID], nil
}

func (m *MemoryStore) UpsertFeatures(_ context.Context, f *UserFeatures) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.features[f.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetFeatures(_ context.Context, userID string) (*UserFeatures, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}
