// Package verification implements the append-only verification event ledger.
//
// Every trust-relevant observation about a user's data is recorded as an
// immutable Event: what was checked, how, the outcome and the bonus
// multiplier it earns. Events are never updated or deleted and only their
// creation order is meaningful.
//
// A flagged event always carries the neutral multiplier (1.0). Flags withhold
// a bonus; they never penalize.
package verification

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mbd888/fittrust/internal/pagination"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/mbd888/fittrust/internal/validation"
)

// EntityType is the kind of user data an event is about.
type EntityType string

const (
	EntitySleep     EntityType = "sleep"
	EntityWorkout   EntityType = "workout"
	EntityNutrition EntityType = "nutrition"
	EntityMetric    EntityType = "metric"
	EntityProfile   EntityType = "profile"
	EntityDevice    EntityType = "device"
)

// Method is how the data was verified.
type Method string

const (
	MethodConsistencyCheck Method = "consistency_check"
	MethodSurvey           Method = "survey"
	MethodWearableSync     Method = "wearable_sync"
	MethodDeviceBinding    Method = "device_binding"
	MethodManualReview     Method = "manual_review"
)

// Status is the outcome of a verification.
type Status string

const (
	StatusVerified Status = "verified"
	StatusFlagged  Status = "flagged"
)

// Confidence is the strength of a single verification.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	// NeutralMultiplier has no effect on a score.
	NeutralMultiplier = 1.0
	// MaxMultiplier caps any combination of multipliers.
	MaxMultiplier = 1.25
)

var knownEntities = map[EntityType]bool{
	EntitySleep: true, EntityWorkout: true, EntityNutrition: true,
	EntityMetric: true, EntityProfile: true, EntityDevice: true,
}

// DefaultMultipliers is the bonus earned by a verified event of each method.
func DefaultMultipliers() map[Method]float64 {
	return map[Method]float64{
		MethodConsistencyCheck: 1.05,
		MethodSurvey:           1.02,
		MethodWearableSync:     1.15,
		MethodDeviceBinding:    1.03,
		MethodManualReview:     1.10,
	}
}

// ParseEntityType validates a raw entity type.
func ParseEntityType(s string) (EntityType, error) {
	if s == "" {
		return "", trusterr.Invalid("entityType is required")
	}
	e := EntityType(s)
	if !knownEntities[e] {
		return "", trusterr.Invalid("unknown entityType %q", s)
	}
	return e, nil
}

// ParseMethod validates a raw method.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return "", trusterr.Invalid("method is required")
	}
	m := Method(s)
	if _, ok := DefaultMultipliers()[m]; !ok {
		return "", trusterr.Invalid("unknown method %q", s)
	}
	return m, nil
}

// ParseStatus validates a raw status; empty defaults to verified.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "":
		return StatusVerified, nil
	case StatusVerified, StatusFlagged:
		return Status(s), nil
	}
	return "", trusterr.Invalid("unknown status %q", s)
}

// ParseConfidence validates a raw confidence; empty returns "" so the caller
// can apply the status-dependent default.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(s) {
	case "", ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return Confidence(s), nil
	}
	return "", trusterr.Invalid("unknown confidence %q", s)
}

// CombineMultipliers stacks multipliers multiplicatively. Each factor is
// floored at neutral and the product is capped at MaxMultiplier, so the
// result is always within [1.0, 1.25].
func CombineMultipliers(ms ...float64) float64 {
	product := NeutralMultiplier
	for _, m := range ms {
		if math.IsNaN(m) || m < NeutralMultiplier {
			continue
		}
		product *= m
	}
	return math.Min(product, MaxMultiplier)
}

// Event is an immutable ledger entry.
type Event struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	EntityType EntityType `json:"entityType"`
	EntityID   *string    `json:"entityId,omitempty"`
	Method     Method     `json:"method"`
	Status     Status     `json:"status"`
	Confidence Confidence `json:"confidence"`
	Multiplier float64    `json:"multiplier"`
	Metadata   Metadata   `json:"metadata"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Metadata is a tagged union over the known method payloads. At most the
// detail matching the event's method may be set; Extra holds open-ended
// diagnostic strings.
type Metadata struct {
	Consistency *ConsistencyDetail `json:"consistency,omitempty"`
	Survey      *SurveyDetail      `json:"survey,omitempty"`
	Wearable    *WearableDetail    `json:"wearable,omitempty"`
	Device      *DeviceDetail      `json:"device,omitempty"`
	Extra       map[string]string  `json:"extra,omitempty"`
}

// ConsistencyDetail records a silent plausibility classification.
type ConsistencyDetail struct {
	Result   string  `json:"result"`
	Reason   string  `json:"reason,omitempty"`
	Observed float64 `json:"observed"`
	Window   string  `json:"window,omitempty"`
}

// SurveyDetail records a completed self-report survey.
type SurveyDetail struct {
	SurveyID string `json:"surveyId"`
	Answered int    `json:"answered"`
}

// WearableDetail records a data sync from a wearable device.
type WearableDetail struct {
	Provider string    `json:"provider"`
	SyncedAt time.Time `json:"syncedAt"`
}

// DeviceDetail records a device binding by its digest, never the raw id.
type DeviceDetail struct {
	DeviceHash string `json:"deviceHash"`
}

// Validate checks that the populated variant matches the method.
func (m Metadata) Validate(method Method) error {
	type variant struct {
		set    bool
		method Method
		name   string
	}
	for _, v := range []variant{
		{m.Consistency != nil, MethodConsistencyCheck, "consistency"},
		{m.Survey != nil, MethodSurvey, "survey"},
		{m.Wearable != nil, MethodWearableSync, "wearable"},
		{m.Device != nil, MethodDeviceBinding, "device"},
	} {
		if v.set && v.method != method {
			return trusterr.Invalid("metadata.%s is not allowed for method %s", v.name, method)
		}
	}
	if len(m.Extra) > maxExtraKeys {
		return trusterr.Invalid("metadata.extra exceeds %d keys", maxExtraKeys)
	}
	return nil
}

const (
	maxExtraKeys     = 32
	maxExtraValueLen = 256
)

// sanitized returns a copy with Extra keys and values trimmed, stripped of
// NUL bytes and bounded in length. Keys that end up empty are dropped.
func (m Metadata) sanitized() Metadata {
	if len(m.Extra) == 0 {
		return m
	}
	extra := make(map[string]string, len(m.Extra))
	for k, v := range m.Extra {
		k = validation.SanitizeString(k, maxExtraValueLen)
		if k == "" {
			continue
		}
		extra[k] = validation.SanitizeString(v, maxExtraValueLen)
	}
	m.Extra = extra
	return m
}

// RecordInput is a request to append one event.
type RecordInput struct {
	UserID     string
	EntityType EntityType
	EntityID   *string
	Method     Method
	Status     Status
	Confidence Confidence
	Metadata   Metadata
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Filter narrows ListEvents. Zero values mean "no constraint"; Limit is
// bounded to [1, MaxListLimit] with DefaultListLimit when unset. Cursor
// resumes a listing after the last row of a previous page.
type Filter struct {
	EntityType EntityType
	Since      time.Time
	Limit      int
	Cursor     *pagination.Cursor
}

func (f Filter) boundedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// CountQuery selects events for aggregation within a time window.
type CountQuery struct {
	Method Method
	Status Status
	Since  time.Time
}

// Store persists immutable events.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	// List returns events ordered by (created_at, id) descending. The
	// service bounds the limit before calling.
	List(ctx context.Context, userID string, f Filter) ([]*Event, error)
	Count(ctx context.Context, userID string, q CountQuery) (int, error)
}

func (e *Event) String() string {
	return fmt.Sprintf("%s/%s/%s:%s x%.2f", e.UserID, e.EntityType, e.Method, e.Status, e.Multiplier)
}
