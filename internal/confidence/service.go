package confidence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/verification"
)

// Ledger windows.
const (
	ConsistencyWindow = 30 * 24 * time.Hour
	SurveyWindow      = 90 * 24 * time.Hour
)

// EventCounter counts ledger events in a sliding window.
// *verification.Service satisfies it.
type EventCounter interface {
	CountSince(ctx context.Context, userID string, m verification.Method, st verification.Status, window time.Duration) (int, error)
}

// Result is the response for a confidence query.
type Result struct {
	Score
	Factors    Factors   `json:"factors"`
	Multiplier float64   `json:"multiplier"`
	ComputedAt time.Time `json:"computedAt"`
}

// Service derives factors from the ledger and profile and scores them.
type Service struct {
	calculator *Calculator
	ledger     EventCounter
	profiles   ProfileProvider
	cache      Cache
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a confidence service without a cache.
func NewService(ledger EventCounter, profiles ProfileProvider, logger *slog.Logger) *Service {
	return &Service{
		calculator: NewCalculator(),
		ledger:     ledger,
		profiles:   profiles,
		logger:     logger,
		now:        time.Now,
	}
}

// WithCache enables result caching.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// Get returns the caller's current confidence.
func (s *Service) Get(ctx context.Context, userID string) (*Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, trusterr.ErrUnauthorized
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Debug("confidence cache unavailable", "error", err)
		}
	}

	f, err := s.Factors(ctx, userID)
	if err != nil {
		return nil, err
	}
	score := s.calculator.Calculate(*f)
	res := &Result{
		Score:      score,
		Factors:    *f,
		Multiplier: Multiplier(score.Score),
		ComputedAt: s.now().UTC(),
	}
	metrics.ConfidenceScore.Observe(float64(score.Score))

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, res); err != nil {
			s.logger.Debug("confidence cache write skipped", "error", err)
		}
	}
	return res, nil
}

// Factors queries the ledger windows and the profile at call time.
func (s *Service) Factors(ctx context.Context, userID string) (*Factors, error) {
	passes, err := s.ledger.CountSince(ctx, userID, verification.MethodConsistencyCheck, verification.StatusVerified, ConsistencyWindow)
	if err != nil {
		return nil, err
	}
	surveys, err := s.ledger.CountSince(ctx, userID, verification.MethodSurvey, verification.StatusVerified, SurveyWindow)
	if err != nil {
		return nil, err
	}
	prof, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, trusterr.Store("get health profile", err)
	}

	f := &Factors{
		ConsistencyPassesLast30Days: passes,
		SurveyCompletionsLast90Days: surveys,
	}
	if prof != nil {
		f.HasWearable = prof.HasWearable
		if !prof.JoinedAt.IsZero() {
			f.DaysActive = nonNeg(int(s.now().Sub(prof.JoinedAt).Hours() / 24))
		}
	}
	return f, nil
}

// Invalidate drops any cached result for the user. It is registered as a
// ledger hook so a new event is reflected on the next query.
func (s *Service) Invalidate(ctx context.Context, ev *verification.Event) {
	if s.cache == nil || ev == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, ev.UserID); err != nil {
		s.logger.Warn("failed to invalidate confidence cache", "user_id", ev.UserID, "error", err)
	}
}
