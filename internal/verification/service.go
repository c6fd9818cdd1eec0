package verification

import (
	"context"
	"strings"
	"time"

	"github.com/mbd888/fittrust/internal/idgen"
	"github.com/mbd888/fittrust/internal/logging"
	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/pagination"
	"github.com/mbd888/fittrust/internal/trusterr"
)

// RecordedHook runs after an event has been appended. Hooks must not fail
// the write; they are used for cache invalidation.
type RecordedHook func(ctx context.Context, ev *Event)

// Service records and queries verification events.
type Service struct {
	store       Store
	multipliers map[Method]float64
	hooks       []RecordedHook
	now         func() time.Time
}

// NewService creates a ledger service using DefaultMultipliers.
func NewService(store Store) *Service {
	return &Service{
		store:       store,
		multipliers: DefaultMultipliers(),
		now:         time.Now,
	}
}

// WithMultiplier overrides the bonus for one method. Values below neutral
// are clamped to neutral.
func (s *Service) WithMultiplier(m Method, v float64) *Service {
	if v < NeutralMultiplier {
		v = NeutralMultiplier
	}
	s.multipliers[m] = v
	return s
}

// OnRecorded registers a hook that runs after each successful append.
func (s *Service) OnRecorded(h RecordedHook) {
	s.hooks = append(s.hooks, h)
}

// Multiplier returns the multiplier a recorded event with this method and
// status would carry.
func (s *Service) Multiplier(m Method, st Status) float64 {
	if st == StatusFlagged {
		return NeutralMultiplier
	}
	if v, ok := s.multipliers[m]; ok {
		return CombineMultipliers(v)
	}
	return NeutralMultiplier
}

// RecordEvent validates and appends one immutable event.
func (s *Service) RecordEvent(ctx context.Context, in RecordInput) (*Event, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, trusterr.ErrUnauthorized
	}
	if _, err := ParseEntityType(string(in.EntityType)); err != nil {
		return nil, err
	}
	if _, err := ParseMethod(string(in.Method)); err != nil {
		return nil, err
	}
	status, err := ParseStatus(string(in.Status))
	if err != nil {
		return nil, err
	}
	conf, err := ParseConfidence(string(in.Confidence))
	if err != nil {
		return nil, err
	}
	if conf == "" {
		conf = ConfidenceMedium
		if status == StatusFlagged {
			conf = ConfidenceLow
		}
	}
	if err := in.Metadata.Validate(in.Method); err != nil {
		return nil, err
	}
	if in.EntityID != nil && strings.TrimSpace(*in.EntityID) == "" {
		in.EntityID = nil
	}

	ev := &Event{
		ID:         idgen.WithPrefix("vev_"),
		UserID:     userID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Method:     in.Method,
		Status:     status,
		Confidence: conf,
		Multiplier: s.Multiplier(in.Method, status),
		Metadata:   in.Metadata.sanitized(),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Append(ctx, ev); err != nil {
		return nil, trusterr.Store("append verification event", err)
	}

	metrics.VerificationEventsTotal.WithLabelValues(string(ev.Method), string(ev.Status)).Inc()
	logging.L(ctx).Debug("verification event recorded",
		"event_id", ev.ID, "user_id", ev.UserID, "method", ev.Method, "status", ev.Status)

	for _, h := range s.hooks {
		h(ctx, ev)
	}
	return ev, nil
}

// Page is one slice of a newest-first listing.
type Page struct {
	Events     []*Event `json:"events"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// ListEvents returns the caller's events, newest first.
func (s *Service) ListEvents(ctx context.Context, userID string, f Filter) ([]*Event, error) {
	page, err := s.ListPage(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}

// ListPage returns one page of the caller's events and the cursor for the
// next one.
func (s *Service) ListPage(ctx context.Context, userID string, f Filter) (*Page, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, trusterr.ErrUnauthorized
	}
	if f.EntityType != "" {
		if _, err := ParseEntityType(string(f.EntityType)); err != nil {
			return nil, err
		}
	}
	limit := f.boundedLimit()
	f.Limit = limit + 1
	events, err := s.store.List(ctx, userID, f)
	if err != nil {
		return nil, trusterr.Store("list verification events", err)
	}

	events, next, more := pagination.ComputePage(events, limit, func(e *Event) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return &Page{Events: events, NextCursor: next, HasMore: more}, nil
}

// CountSince counts events matching method and status within a sliding
// window ending now.
func (s *Service) CountSince(ctx context.Context, userID string, m Method, st Status, window time.Duration) (int, error) {
	n, err := s.store.Count(ctx, userID, CountQuery{
		Method: m,
		Status: st,
		Since:  s.now().Add(-window),
	})
	if err != nil {
		return 0, trusterr.Store("count verification events", err)
	}
	return n, nil
}
