package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/fittrust/internal/baseline"
	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/notify"
	"github.com/mbd888/fittrust/internal/retry"
	"github.com/mbd888/fittrust/internal/traces"
	"github.com/mbd888/fittrust/internal/trusterr"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers bounds per-user parallelism; keep it under the DB pool size.
	DefaultWorkers = 4

	upsertAttempts  = 3
	upsertBaseDelay = 100 * time.Millisecond
)

// UserResult is the outcome of recomputing one user: either Features or Err.
type UserResult struct {
	UserID   string
	Features *UserFeatures
	Err      error
}

// Updated reports whether the user's row was written.
func (r UserResult) Updated() bool {
	return r.Err == nil && r.Features != nil
}

// Summary reports a recomputation run. Partial success is success: failed
// users are counted as processed but not updated.
type Summary struct {
	UsersProcessed int       `json:"usersProcessed"`
	UsersUpdated   int       `json:"usersUpdated"`
	UsersFailed    int       `json:"usersFailed"`
	Cancelled      bool      `json:"cancelled,omitempty"`
	DurationMs     int64     `json:"durationMs"`
	Timestamp      time.Time `json:"timestamp"`
}

// Recomputer rebuilds every active user's feature row.
type Recomputer struct {
	store     Store
	workers   int
	publisher notify.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecomputer creates a recomputation job with bounded parallelism.
func NewRecomputer(store Store, workers int, logger *slog.Logger) *Recomputer {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Recomputer{
		store:     store,
		workers:   workers,
		publisher: notify.Nop{},
		logger:    logger,
		now:       time.Now,
	}
}

// WithPublisher announces each completed run.
func (r *Recomputer) WithPublisher(p notify.Publisher) *Recomputer {
	r.publisher = p
	return r
}

// Run recomputes features for every user with a signal in the last
// ActiveWindow. It stops scheduling new users once ctx is cancelled, but a
// user already in progress always finishes its single upsert. Only a
// failure to list active users fails the run.
func (r *Recomputer) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	ctx, span := traces.StartSpan(ctx, "risk.recompute", traces.Job("risk_recompute"), traces.Workers(r.workers))
	defer span.End()

	users, err := r.store.ActiveUsers(ctx, started.Add(-ActiveWindow))
	if err != nil {
		return nil, trusterr.Store("list active users", err)
	}

	results := make([]*UserResult, len(users))
	var g errgroup.Group
	g.SetLimit(r.workers)

	cancelled := false
	for i, userID := range users {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			res := r.RecomputeUser(context.WithoutCancel(ctx), userID)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Cancelled: cancelled, Timestamp: r.now().UTC()}
	for _, res := range results {
		if res == nil {
			continue
		}
		summary.UsersProcessed++
		if res.Updated() {
			summary.UsersUpdated++
			metrics.RiskRecomputeUsersTotal.WithLabelValues("updated").Inc()
			continue
		}
		summary.UsersFailed++
		metrics.RiskRecomputeUsersTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("risk feature recomputation failed for user", "user_id", res.UserID, "error", res.Err)
	}
	elapsed := r.now().Sub(started)
	summary.DurationMs = elapsed.Milliseconds()
	metrics.RiskRecomputeDuration.Observe(elapsed.Seconds())
	span.SetAttributes(traces.UsersProcessed(summary.UsersProcessed), traces.UsersUpdated(summary.UsersUpdated))

	r.logger.Info("risk feature recomputation completed",
		"active_users", len(users),
		"processed", summary.UsersProcessed,
		"updated", summary.UsersUpdated,
		"failed", summary.UsersFailed,
		"cancelled", summary.Cancelled,
		"duration_ms", summary.DurationMs)
	notify.Announce(r.publisher, r.logger, notify.SubjectRiskRecomputed, summary)
	return summary, nil
}

// RecomputeUser derives one user's features and writes them as a single
// row. Reads may race with newly arriving signals; the next run picks them
// up.
func (r *Recomputer) RecomputeUser(ctx context.Context, userID string) UserResult {
	ctx, span := traces.StartSpan(ctx, "risk.recompute_user", traces.UserID(userID))
	defer span.End()

	f, err := r.ComputeFeatures(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return UserResult{UserID: userID, Err: err}
	}

	err = retry.Do(ctx, upsertAttempts, upsertBaseDelay, func() error {
		return retry.NonTransient(r.store.UpsertFeatures(ctx, f))
	})
	if err != nil {
		span.RecordError(err)
		return UserResult{UserID: userID, Err: trusterr.Store("upsert features", err)}
	}
	return UserResult{UserID: userID, Features: f}
}

// ComputeFeatures reads the user's recent signals and builds a complete row
// without writing it.
func (r *Recomputer) ComputeFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	now := r.now()
	since := now.Add(-DegreeWindow)

	devices, err := r.store.DeviceDegree(ctx, userID, since)
	if err != nil {
		return nil, trusterr.Store("device degree", err)
	}
	ips, err := r.store.IPDegree(ctx, userID, since)
	if err != nil {
		return nil, trusterr.Store("ip degree", err)
	}
	samples, err := r.store.RecentTypingSamples(ctx, userID, TypingSampleLimit)
	if err != nil {
		return nil, trusterr.Store("typing samples", err)
	}
	earliest, err := r.store.EarliestSignal(ctx, userID)
	if err != nil {
		return nil, trusterr.Store("earliest signal", err)
	}

	f := &UserFeatures{
		UserID:         userID,
		DeviceDegree:   devices,
		IPDegree:       ips,
		AccountAgeDays: accountAgeDays(earliest, now),
		LastComputedAt: now.UTC(),
	}
	applyTypingBaseline(f, samples)
	return f, nil
}

// applyTypingBaseline fills the typing fields, or leaves them nil when
// fewer than MinTypingSamples samples carry a dwell value. That is a valid
// outcome, not an error.
func applyTypingBaseline(f *UserFeatures, samples []TypingSample) {
	var dwells, flights []float64
	for _, s := range samples {
		if s.MeanDwellMs == nil {
			continue
		}
		dwells = append(dwells, *s.MeanDwellMs)
		if s.MeanFlightMs != nil {
			flights = append(flights, *s.MeanFlightMs)
		}
	}
	dwell, ok := baseline.Summarize(dwells)
	if !ok || dwell.N < MinTypingSamples {
		return
	}
	f.AvgTypingDwell = &dwell.Mean
	f.StdTypingDwell = &dwell.Std
	f.TypingBaselineCount = dwell.N

	if flight, ok := baseline.Summarize(flights); ok {
		f.AvgTypingFlight = &flight.Mean
		f.StdTypingFlight = &flight.Std
	}
}

func accountAgeDays(earliest, now time.Time) int {
	if earliest.IsZero() || earliest.After(now) {
		return 0
	}
	return int(now.Sub(earliest) / (24 * time.Hour))
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d updated=%d failed=%d", s.UsersProcessed, s.UsersUpdated, s.UsersFailed)
}
