package consistency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource implements EntrySource for development mode and tests.
type MemorySource struct {
	sleep    []SleepEntry
	workouts []WorkoutEntry
	metrics  []MetricEntry
	mu       sync.RWMutex
}

// NewMemorySource creates an empty in-memory entry source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// AddSleep logs a night of sleep.
func (m *MemorySource) AddSleep(e SleepEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep = append(m.sleep, e)
}

// AddWorkout logs a workout. WorkoutsThatDay is derived on read.
func (m *MemorySource) AddWorkout(e WorkoutEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workouts = append(m.workouts, e)
}

// AddMetric logs a body-metric reading. Previous is derived on read.
func (m *MemorySource) AddMetric(e MetricEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, e)
}

func (m *MemorySource) SleepSince(_ context.Context, since time.Time) ([]SleepEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SleepEntry
	for _, e := range m.sleep {
		if !e.LoggedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemorySource) WorkoutsSince(_ context.Context, since time.Time) ([]WorkoutEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perDay := make(map[string]int)
	for _, e := range m.workouts {
		perDay[dayKey(e.UserID, e.LoggedAt)]++
	}

	var out []WorkoutEntry
	for _, e := range m.workouts {
		if e.LoggedAt.Before(since) {
			continue
		}
		e.WorkoutsThatDay = perDay[dayKey(e.UserID, e.LoggedAt)]
		out = append(out, e)
	}
	return out, nil
}

func (m *MemorySource) MetricsSince(_ context.Context, since time.Time) ([]MetricEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := append([]MetricEntry(nil), m.metrics...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LoggedAt.Before(sorted[j].LoggedAt) })

	last := make(map[string]float64)
	var out []MetricEntry
	for _, e := range sorted {
		key := e.UserID + "|" + e.Metric
		if prev, ok := last[key]; ok {
			p := prev
			e.Previous = &p
		} else {
			e.Previous = nil
		}
		last[key] = e.Value
		if !e.LoggedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func dayKey(userID string, t time.Time) string {
	return userID + "|" + t.UTC().Format("2006-01-02")
}
