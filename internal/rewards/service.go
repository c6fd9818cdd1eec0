package rewards

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/fittrust/internal/confidence"
	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/retry"
	"github.com/mbd888/fittrust/internal/syncutil"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/validation"
	"github.com/shopspring/decimal"
)

const (
	recordAttempts  = 3
	recordBaseDelay = 50 * time.Millisecond
)

// ConfidenceSource supplies the user's current confidence.
// *confidence.Service satisfies it.
type ConfidenceSource interface {
	Get(ctx context.Context, userID string) (*confidence.Result, error)
}

// DailyInput is one day's health score for a user.
type DailyInput struct {
	UserID      string
	Date        string
	HealthScore float64
}

// DailyResult is the outcome of recording a day.
type DailyResult struct {
	UserID          string  `json:"userId"`
	Date            string  `json:"date"`
	HealthScore     float64 `json:"healthScore"`
	ConfidenceScore int     `json:"confidenceScore"`
	Multiplier      float64 `json:"multiplier"`
	TotalScore      float64 `json:"totalScore"`
	PointsEarned    float64 `json:"pointsEarned"`
	TotalPoints     float64 `json:"totalPoints"`
}

// HistoryEntry is one day in a points query.
type HistoryEntry struct {
	Date         string  `json:"date"`
	HealthScore  float64 `json:"healthScore"`
	Multiplier   float64 `json:"multiplier"`
	PointsEarned float64 `json:"pointsEarned"`
}

// Balance is the response for a points query.
type Balance struct {
	Points       float64        `json:"points"`
	Tier         Tier           `json:"tier"`
	NextTier     *Tier          `json:"nextTier"`
	PointsToNext *float64       `json:"pointsToNext"`
	History      []HistoryEntry `json:"history"`
}

// Service records daily points and answers points queries.
type Service struct {
	store      Store
	confidence ConfidenceSource
	locks      *syncutil.ContextShardedMutex
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a rewards service.
func NewService(store Store, conf ConfidenceSource, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		confidence: conf,
		locks:      syncutil.NewContextShardedMutex(),
		logger:     logger,
		now:        time.Now,
	}
}

// RecordDaily scales the health score by the user's confidence multiplier,
// converts it to points and upserts the day. The running total is then
// recomputed from the full history while holding the user's lock.
func (s *Service) RecordDaily(ctx context.Context, in DailyInput) (*DailyResult, error) {
	userID := strings.TrimSpace(in.UserID)
	if !validation.IsValidUserID(userID) {
		return nil, trusterr.Invalid("userId is invalid")
	}
	if _, err := time.Parse(validation.DateLayout, in.Date); err != nil {
		return nil, trusterr.Invalid("date must be YYYY-MM-DD")
	}
	if errs := validation.Validate(
		validation.InRange("healthScore", in.HealthScore, 0, MaxTotalScore),
	); len(errs) > 0 {
		return nil, trusterr.Invalid("%v", errs)
	}

	conf, err := s.confidence.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	mult := confidence.Multiplier(conf.Score.Score)
	total := TotalScore(in.HealthScore, mult)
	rec := &DayRecord{
		UserID:          userID,
		Date:            in.Date,
		HealthScore:     in.HealthScore,
		ConfidenceScore: conf.Score.Score,
		Multiplier:      mult,
		TotalScore:      total.Truncate(centsPlaces),
		PointsEarned:    Points(total),
		UpdatedAt:       s.now().UTC(),
	}

	cumulative, err := s.recordLocked(ctx, rec)
	if err != nil {
		return nil, trusterr.Store("record reward day", err)
	}

	metrics.RewardPointsAwarded.Add(rec.PointsEarned.InexactFloat64())
	s.logger.Debug("reward day recorded",
		"user_id", userID,
		"date", rec.Date,
		"points", rec.PointsEarned.String(),
		"total_points", cumulative.String())

	return &DailyResult{
		UserID:          userID,
		Date:            rec.Date,
		HealthScore:     rec.HealthScore,
		ConfidenceScore: rec.ConfidenceScore,
		Multiplier:      mult,
		TotalScore:      rec.TotalScore.InexactFloat64(),
		PointsEarned:    rec.PointsEarned.InexactFloat64(),
		TotalPoints:     cumulative.InexactFloat64(),
	}, nil
}

// recordLocked runs the store write under the per-user lock. The lock is
// released while backing off between attempts.
func (s *Service) recordLocked(ctx context.Context, rec *DayRecord) (decimal.Decimal, error) {
	release, err := s.locks.LockContext(ctx, rec.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	var total decimal.Decimal
	err = retry.DoWithUnlock(ctx, recordAttempts, recordBaseDelay,
		func() { release() },
		func() {
			release, _ = s.locks.LockContext(context.WithoutCancel(ctx), rec.UserID)
		},
		func() error {
			t, err := s.store.RecordDay(ctx, rec)
			if err != nil {
				return retry.NonTransient(err)
			}
			total = t
			return nil
		})
	release()
	return total, err
}

// Balance returns the caller's cumulative points, tier and recent history.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, trusterr.ErrUnauthorized
	}

	total, err := s.store.Total(ctx, userID)
	if err != nil {
		return nil, trusterr.Store("read reward total", err)
	}
	since := s.now().UTC().Add(-HistoryWindow).Format(validation.DateLayout)
	rows, err := s.store.History(ctx, userID, since)
	if err != nil {
		return nil, trusterr.Store("read reward history", err)
	}

	st := TierFor(total)
	b := &Balance{
		Points:   total.InexactFloat64(),
		Tier:     st.Tier,
		NextTier: st.NextTier,
		History:  make([]HistoryEntry, 0, len(rows)),
	}
	if st.PointsToNext != nil {
		v := st.PointsToNext.InexactFloat64()
		b.PointsToNext = &v
	}
	for _, r := range rows {
		b.History = append(b.History, HistoryEntry{
			Date:         r.Date,
			HealthScore:  r.HealthScore,
			Multiplier:   r.Multiplier,
			PointsEarned: r.PointsEarned.InexactFloat64(),
		})
	}
	return b, nil
}
