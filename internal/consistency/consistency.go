// Package consistency runs silent, non-punitive plausibility checks on logged
// health entries.
//
// The validators in this file are pure: they see only extracted numbers and
// never touch the ledger. A flag withholds the consistency bonus and is
// recorded for audit; it never lowers any score and is never shown to the
// user.
package consistency

import (
	"math"
)

// Result is the outcome of a single classification.
type Result string

const (
	Pass    Result = "pass"
	Flag    Result = "flag"
	Neutral Result = "neutral"
)

// Classification is a validator verdict with an optional machine reason.
type Classification struct {
	Result Result `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// Plausibility bounds.
const (
	MinSleepHours = 3.0
	MaxSleepHours = 12.0

	MinWorkoutMinutes  = 5.0
	MaxWorkoutMinutes  = 300.0
	MaxWorkoutsPerDay  = 5
	sleepHoursPerPoint = 0.08
)

// ValidateSleepDuration classifies a night's sleep. Every input is either
// pass or flag.
func ValidateSleepDuration(hours float64) Classification {
	switch {
	case math.IsNaN(hours) || math.IsInf(hours, 0):
		return Classification{Result: Flag, Reason: "not_a_number"}
	case hours < MinSleepHours:
		return Classification{Result: Flag, Reason: "below_plausible_range"}
	case hours > MaxSleepHours:
		return Classification{Result: Flag, Reason: "above_plausible_range"}
	default:
		return Classification{Result: Pass}
	}
}

// SleepHoursFromScore estimates hours slept from a 0-100 sleep score. It is
// a proportional approximation used only when a log has no duration.
func SleepHoursFromScore(score float64) float64 {
	return score * sleepHoursPerPoint
}

// WorkoutInput holds the extracted features of one logged workout.
type WorkoutInput struct {
	DurationMinutes float64
	WorkoutsToday   int
}

// ValidateWorkout flags implausibly short or long sessions and days with
// more workouts than a person plausibly logs.
func ValidateWorkout(in WorkoutInput) Classification {
	d := in.DurationMinutes
	switch {
	case math.IsNaN(d) || math.IsInf(d, 0):
		return Classification{Result: Flag, Reason: "not_a_number"}
	case d < MinWorkoutMinutes:
		return Classification{Result: Flag, Reason: "duration_too_short"}
	case d > MaxWorkoutMinutes:
		return Classification{Result: Flag, Reason: "duration_too_long"}
	case in.WorkoutsToday > MaxWorkoutsPerDay:
		return Classification{Result: Flag, Reason: "too_many_workouts_today"}
	default:
		return Classification{Result: Pass}
	}
}

// ValidateMetricChange flags a day-over-day change larger than threshold.
// A non-positive threshold means the metric is not tracked and yields
// neutral.
func ValidateMetricChange(previous, current, threshold float64) Classification {
	if threshold <= 0 || math.IsNaN(threshold) {
		return Classification{Result: Neutral, Reason: "untracked_metric"}
	}
	delta := math.Abs(current - previous)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return Classification{Result: Flag, Reason: "not_a_number"}
	}
	if delta > threshold {
		return Classification{Result: Flag, Reason: "change_exceeds_threshold"}
	}
	return Classification{Result: Pass}
}
