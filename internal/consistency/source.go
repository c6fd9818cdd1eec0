package consistency

import (
	"context"
	"time"
)

// SleepEntry is one logged night. Hours is nil when the platform recorded
// only a 0-100 score.
type SleepEntry struct {
	ID       string
	UserID   string
	Hours    *float64
	Score    *float64
	LoggedAt time.Time
}

// WorkoutEntry is one logged workout. WorkoutsThatDay counts the user's
// workouts on the same calendar day, including this one.
type WorkoutEntry struct {
	ID              string
	UserID          string
	DurationMinutes float64
	WorkoutsThatDay int
	LoggedAt        time.Time
}

// MetricEntry is one body-metric reading. Previous is the user's prior
// reading of the same metric, nil for the first.
type MetricEntry struct {
	ID       string
	UserID   string
	Metric   string
	Value    float64
	Previous *float64
	LoggedAt time.Time
}

// EntrySource reads raw entries created since a point in time. It is owned
// by the surrounding platform; this package only reads it.
type EntrySource interface {
	SleepSince(ctx context.Context, since time.Time) ([]SleepEntry, error)
	WorkoutsSince(ctx context.Context, since time.Time) ([]WorkoutEntry, error)
	MetricsSince(ctx context.Context, since time.Time) ([]MetricEntry, error)
}
