package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/notify"
	"github.com/mbd888/fittrust/internal/traces"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/verification"
)

// Window is how far back a run looks for newly logged entries.
const Window = 24 * time.Hour

// Categories reported by a run.
const (
	CategorySleep   = "sleep"
	CategoryWorkout = "workout"
	CategoryMetric  = "metric"
)

// Recorder appends verification events. *verification.Service satisfies it.
type Recorder interface {
	RecordEvent(ctx context.Context, in verification.RecordInput) (*verification.Event, error)
}

// CategoryReport counts one category's classifications in a run.
type CategoryReport struct {
	Checked int `json:"checked"`
	Passed  int `json:"passed"`
	Flagged int `json:"flagged"`
	Neutral int `json:"neutral,omitempty"`
	Errors  int `json:"errors,omitempty"`
}

// Report summarizes a consistency run. It never identifies users.
type Report struct {
	Categories map[string]*CategoryReport `json:"categories"`
	Since      time.Time                  `json:"since"`
	StartedAt  time.Time                  `json:"startedAt"`
	DurationMs int64                      `json:"durationMs"`
}

// Checker classifies recent entries and records every verdict in the ledger.
type Checker struct {
	source     EntrySource
	recorder   Recorder
	thresholds map[string]float64
	publisher  notify.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewChecker creates a consistency checker. thresholds maps metric name to
// the largest plausible day-over-day change; untracked metrics are neutral.
func NewChecker(source EntrySource, recorder Recorder, thresholds map[string]float64, logger *slog.Logger) *Checker {
	return &Checker{
		source:     source,
		recorder:   recorder,
		thresholds: thresholds,
		publisher:  notify.Nop{},
		logger:     logger,
		now:        time.Now,
	}
}

// WithPublisher announces each completed run.
func (c *Checker) WithPublisher(p notify.Publisher) *Checker {
	c.publisher = p
	return c
}

// Run checks every entry logged in the last Window. Classification never
// fails a run; a failed append is counted and logged. Only a failure to
// read the entry source is returned.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	started := c.now()
	report := &Report{
		Categories: map[string]*CategoryReport{
			CategorySleep:   {},
			CategoryWorkout: {},
			CategoryMetric:  {},
		},
		Since:     started.Add(-Window),
		StartedAt: started,
	}

	ctx, span := traces.StartSpan(ctx, "consistency.run", traces.Job("consistency"))
	defer span.End()

	if err := c.checkSleep(ctx, report); err != nil {
		return nil, err
	}
	if err := c.checkWorkouts(ctx, report); err != nil {
		return nil, err
	}
	if err := c.checkMetrics(ctx, report); err != nil {
		return nil, err
	}

	report.DurationMs = c.now().Sub(started).Milliseconds()
	c.logger.Info("consistency check completed",
		"sleep", report.Categories[CategorySleep].Checked,
		"workout", report.Categories[CategoryWorkout].Checked,
		"metric", report.Categories[CategoryMetric].Checked,
		"duration_ms", report.DurationMs)
	notify.Announce(c.publisher, c.logger, notify.SubjectConsistencyCompleted, report)
	return report, nil
}

func (c *Checker) checkSleep(ctx context.Context, report *Report) error {
	ctx, span := traces.StartSpan(ctx, "consistency.sleep", traces.Category(CategorySleep))
	defer span.End()

	entries, err := c.source.SleepSince(ctx, report.Since)
	if err != nil {
		return trusterr.Store("read sleep logs", err)
	}
	for _, e := range entries {
		var hours float64
		window := "duration"
		switch {
		case e.Hours != nil:
			hours = *e.Hours
		case e.Score != nil:
			hours = SleepHoursFromScore(*e.Score)
			window = "score_estimate"
		default:
			c.tally(report, CategorySleep, Classification{Result: Neutral, Reason: "no_duration"})
			continue
		}
		cls := ValidateSleepDuration(hours)
		c.record(ctx, report, CategorySleep, verification.EntitySleep, e.UserID, e.ID, cls, hours, window)
	}
	return nil
}

func (c *Checker) checkWorkouts(ctx context.Context, report *Report) error {
	ctx, span := traces.StartSpan(ctx, "consistency.workouts", traces.Category(CategoryWorkout))
	defer span.End()

	entries, err := c.source.WorkoutsSince(ctx, report.Since)
	if err != nil {
		return trusterr.Store("read workout logs", err)
	}
	for _, e := range entries {
		cls := ValidateWorkout(WorkoutInput{DurationMinutes: e.DurationMinutes, WorkoutsToday: e.WorkoutsThatDay})
		c.record(ctx, report, CategoryWorkout, verification.EntityWorkout, e.UserID, e.ID, cls, e.DurationMinutes, "")
	}
	return nil
}

func (c *Checker) checkMetrics(ctx context.Context, report *Report) error {
	ctx, span := traces.StartSpan(ctx, "consistency.metrics", traces.Category(CategoryMetric))
	defer span.End()

	entries, err := c.source.MetricsSince(ctx, report.Since)
	if err != nil {
		return trusterr.Store("read body metrics", err)
	}
	for _, e := range entries {
		if e.Previous == nil {
			c.tally(report, CategoryMetric, Classification{Result: Neutral, Reason: "first_reading"})
			continue
		}
		cls := ValidateMetricChange(*e.Previous, e.Value, c.thresholds[e.Metric])
		c.record(ctx, report, CategoryMetric, verification.EntityMetric, e.UserID, e.ID, cls, e.Value-*e.Previous, e.Metric)
	}
	return nil
}

// record appends the verdict for one entry. Neutral verdicts are counted
// but not recorded: they carry no verification outcome.
func (c *Checker) record(ctx context.Context, report *Report, category string, entity verification.EntityType,
	userID, entryID string, cls Classification, observed float64, window string) {
	if cls.Result == Neutral {
		c.tally(report, category, cls)
		return
	}

	in := verification.RecordInput{
		UserID:     userID,
		EntityType: entity,
		Method:     verification.MethodConsistencyCheck,
		Status:     verification.StatusVerified,
		Confidence: verification.ConfidenceMedium,
		Metadata: verification.Metadata{Consistency: &verification.ConsistencyDetail{
			Result:   string(cls.Result),
			Reason:   cls.Reason,
			Observed: observed,
			Window:   window,
		}},
	}
	if entryID != "" {
		id := entryID
		in.EntityID = &id
	}
	if cls.Result == Flag {
		in.Status = verification.StatusFlagged
		in.Confidence = verification.ConfidenceLow
		c.logger.Debug("consistency flag recorded", "category", category, "reason", cls.Reason)
	}

	if _, err := c.recorder.RecordEvent(ctx, in); err != nil {
		report.Categories[category].Checked++
		report.Categories[category].Errors++
		metrics.ConsistencyChecksTotal.WithLabelValues(category, "error").Inc()
		c.logger.Warn("failed to record consistency verdict",
			"category", category, "user_id", userID, "error", fmt.Sprint(err))
		return
	}
	c.tally(report, category, cls)
}

func (c *Checker) tally(report *Report, category string, cls Classification) {
	r := report.Categories[category]
	r.Checked++
	switch cls.Result {
	case Pass:
		r.Passed++
	case Flag:
		r.Flagged++
	default:
		r.Neutral++
	}
	metrics.ConsistencyChecksTotal.WithLabelValues(category, string(cls.Result)).Inc()
}
