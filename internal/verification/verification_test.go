package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/pagination"
	"github.com/mbd888/fittrust/internal/trusterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store), store
}

func TestRecordEvent_VerifiedGetsMethodBonus(t *testing.T) {
	svc, _ := newTestService()

	ev, err := svc.RecordEvent(context.Background(), RecordInput{
		UserID:     "u1",
		EntityType: EntityWorkout,
		Method:     MethodWearableSync,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusVerified, ev.Status)
	assert.Equal(t, ConfidenceMedium, ev.Confidence)
	assert.InDelta(t, 1.15, ev.Multiplier, 1e-9)
	assert.Contains(t, ev.ID, "vev_")
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestRecordEvent_FlaggedIsNeutral(t *testing.T) {
	svc, _ := newTestService()

	for m := range DefaultMultipliers() {
		ev, err := svc.RecordEvent(context.Background(), RecordInput{
			UserID:     "u1",
			EntityType: EntitySleep,
			Method:     m,
			Status:     StatusFlagged,
			Confidence: ConfidenceHigh,
		})
		require.NoError(t, err)
		assert.Equal(t, NeutralMultiplier, ev.Multiplier, "method %s", m)
		assert.Equal(t, ConfidenceHigh, ev.Confidence)
	}
}

func TestRecordEvent_FlaggedDefaultsToLowConfidence(t *testing.T) {
	svc, _ := newTestService()

	ev, err := svc.RecordEvent(context.Background(), RecordInput{
		UserID:     "u1",
		EntityType: EntitySleep,
		Method:     MethodConsistencyCheck,
		Status:     StatusFlagged,
	})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, ev.Confidence)
}

func TestRecordEvent_Rejections(t *testing.T) {
	svc, store := newTestService()

	tests := []struct {
		name string
		in   RecordInput
		want error
	}{
		{"no caller", RecordInput{EntityType: EntitySleep, Method: MethodSurvey}, trusterr.ErrUnauthorized},
		{"missing entity", RecordInput{UserID: "u1", Method: MethodSurvey}, trusterr.ErrInvalidInput},
		{"unknown entity", RecordInput{UserID: "u1", EntityType: "recipe", Method: MethodSurvey}, trusterr.ErrInvalidInput},
		{"missing method", RecordInput{UserID: "u1", EntityType: EntitySleep}, trusterr.ErrInvalidInput},
		{"unknown method", RecordInput{UserID: "u1", EntityType: EntitySleep, Method: "vibes"}, trusterr.ErrInvalidInput},
		{"unknown status", RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodSurvey, Status: "maybe"}, trusterr.ErrInvalidInput},
		{"unknown confidence", RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodSurvey, Confidence: "extreme"}, trusterr.ErrInvalidInput},
		{"mismatched metadata", RecordInput{
			UserID: "u1", EntityType: EntitySleep, Method: MethodSurvey,
			Metadata: Metadata{Wearable: &WearableDetail{Provider: "oura"}},
		}, trusterr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordEvent(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Nothing reaches the store when validation fails.
	n, err := store.Count(context.Background(), "u1", CountQuery{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordEvent_BlankEntityIDDropped(t *testing.T) {
	svc, _ := newTestService()
	blank := "  "

	ev, err := svc.RecordEvent(context.Background(), RecordInput{
		UserID: "u1", EntityType: EntityNutrition, EntityID: &blank, Method: MethodManualReview,
	})
	require.NoError(t, err)
	assert.Nil(t, ev.EntityID)
}

func TestRecordEvent_ExtraSanitized(t *testing.T) {
	svc, _ := newTestService()

	ev, err := svc.RecordEvent(context.Background(), RecordInput{
		UserID:     "u1",
		EntityType: EntitySleep,
		Method:     MethodSurvey,
		Metadata: Metadata{Extra: map[string]string{
			"  source ": " app\x00 ",
			"   ":       "dropped",
			"long":      strings.Repeat("a", maxExtraValueLen+10),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"source": "app",
		"long":   strings.Repeat("a", maxExtraValueLen),
	}, ev.Metadata.Extra)
}

func TestHandler_ConsistencyCheckNotSubmittable(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/verifications",
		bytes.NewBufferString(`{"entityType":"sleep","method":"consistency_check","status":"verified"}`))
	req.Header.Set(auth.DefaultUserHeader, "u1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "reserved_method")

	n, err := svc.CountSince(context.Background(), "u1", MethodConsistencyCheck, StatusVerified, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordEvent_HooksRun(t *testing.T) {
	svc, _ := newTestService()
	var seen []string
	svc.OnRecorded(func(_ context.Context, ev *Event) { seen = append(seen, ev.UserID) })

	_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u9", EntityType: EntityDevice, Method: MethodDeviceBinding})
	require.NoError(t, err)
	assert.Equal(t, []string{"u9"}, seen)
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, *Event) error { return errors.New("connection refused") }

func TestRecordEvent_StoreFailureIsRetryable(t *testing.T) {
	svc := NewService(&failingStore{})

	_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodSurvey})
	require.Error(t, err)
	assert.True(t, trusterr.Retryable(err))
}

func TestWithMultiplier_ClampsBelowNeutral(t *testing.T) {
	svc, _ := newTestService()
	svc.WithMultiplier(MethodSurvey, 0.5)
	assert.Equal(t, NeutralMultiplier, svc.Multiplier(MethodSurvey, StatusVerified))

	svc.WithMultiplier(MethodConsistencyCheck, 1.08)
	assert.InDelta(t, 1.08, svc.Multiplier(MethodConsistencyCheck, StatusVerified), 1e-9)
}

func TestCombineMultipliers(t *testing.T) {
	assert.Equal(t, 1.0, CombineMultipliers())
	assert.InDelta(t, 1.05*1.02, CombineMultipliers(1.05, 1.02), 1e-9)
	assert.Equal(t, MaxMultiplier, CombineMultipliers(1.15, 1.10, 1.05))
	assert.InDelta(t, 1.05, CombineMultipliers(1.05, 0.5), 1e-9, "sub-neutral factors are ignored")
}

func TestListEvents_NewestFirstAndBounded(t *testing.T) {
	svc, _ := newTestService()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	i := 0
	svc.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Minute) }

	for n := 0; n < 3; n++ {
		_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodConsistencyCheck})
		require.NoError(t, err)
	}
	_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntityWorkout, Method: MethodConsistencyCheck})
	require.NoError(t, err)
	_, err = svc.RecordEvent(context.Background(), RecordInput{UserID: "other", EntityType: EntitySleep, Method: MethodSurvey})
	require.NoError(t, err)

	events, err := svc.ListEvents(context.Background(), "u1", Filter{})
	require.NoError(t, err)
	require.Len(t, events, 4)
	for k := 1; k < len(events); k++ {
		assert.True(t, events[k-1].CreatedAt.After(events[k].CreatedAt))
	}
	assert.Equal(t, EntityWorkout, events[0].EntityType)

	events, err = svc.ListEvents(context.Background(), "u1", Filter{EntityType: EntitySleep, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = svc.ListEvents(context.Background(), "u1", Filter{EntityType: "recipe"})
	assert.ErrorIs(t, err, trusterr.ErrInvalidInput)
}

func TestListPage_CursorWalksEveryEvent(t *testing.T) {
	svc, _ := newTestService()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	// Same timestamp for all: ordering falls back to id.
	svc.now = func() time.Time { return at }

	for n := 0; n < 5; n++ {
		_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodSurvey})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	f := Filter{Limit: 2}
	pages := 0
	for {
		page, err := svc.ListPage(context.Background(), "u1", f)
		require.NoError(t, err)
		pages++
		for _, e := range page.Events {
			assert.False(t, seen[e.ID], "event %s returned twice", e.ID)
			seen[e.ID] = true
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		f.Cursor, err = pagination.Decode(page.NextCursor)
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestFilter_BoundedLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, Filter{}.boundedLimit())
	assert.Equal(t, MaxListLimit, Filter{Limit: 10_000}.boundedLimit())
	assert.Equal(t, 7, Filter{Limit: 7}.boundedLimit())
}

func TestCountSince_Window(t *testing.T) {
	svc, _ := newTestService()
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return now.AddDate(0, 0, -40) }
	_, err := svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodConsistencyCheck})
	require.NoError(t, err)

	svc.now = func() time.Time { return now.AddDate(0, 0, -2) }
	_, err = svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodConsistencyCheck})
	require.NoError(t, err)
	_, err = svc.RecordEvent(context.Background(), RecordInput{UserID: "u1", EntityType: EntitySleep, Method: MethodConsistencyCheck, Status: StatusFlagged})
	require.NoError(t, err)

	svc.now = func() time.Time { return now }
	n, err := svc.CountSince(context.Background(), "u1", MethodConsistencyCheck, StatusVerified, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func newTestRouter(svc *Service) *gin.Engine {
	r := gin.New()
	g := r.Group("/v1", auth.Middleware(""))
	NewHandler(svc).RegisterRoutes(g)
	return r
}

func TestHandler_SubmitAndList(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"entityType": "sleep",
		"method":     "survey",
		"metadata":   map[string]any{"survey": map[string]any{"surveyId": "s1", "answered": 4}},
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/verifications", bytes.NewReader(body))
	req.Header.Set(auth.DefaultUserHeader, "u1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Event      Event   `json:"event"`
		Multiplier float64 `json:"multiplier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.InDelta(t, 1.02, created.Multiplier, 1e-9)
	require.NotNil(t, created.Event.Metadata.Survey)
	assert.Equal(t, "s1", created.Event.Metadata.Survey.SurveyID)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/verifications?limit=5", nil)
	req.Header.Set(auth.DefaultUserHeader, "u1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_Errors(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(svc)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		user   string
		want   int
	}{
		{"no identity", "POST", "/v1/verifications", `{"entityType":"sleep","method":"survey"}`, "", http.StatusUnauthorized},
		{"missing method", "POST", "/v1/verifications", `{"entityType":"sleep"}`, "u1", http.StatusBadRequest},
		{"unknown entity", "POST", "/v1/verifications", `{"entityType":"recipe","method":"survey"}`, "u1", http.StatusBadRequest},
		{"bad json", "POST", "/v1/verifications", `{`, "u1", http.StatusBadRequest},
		{"consistency check reserved", "POST", "/v1/verifications", `{"entityType":"sleep","method":"consistency_check"}`, "u1", http.StatusForbidden},
		{"bad limit", "GET", "/v1/verifications?limit=-1", "", "u1", http.StatusBadRequest},
		{"bad since", "GET", "/v1/verifications?since=yesterday", "", "u1", http.StatusBadRequest},
		{"bad cursor", "GET", "/v1/verifications?cursor=bm9waXBl", "", "u1", http.StatusBadRequest},
		{"list no identity", "GET", "/v1/verifications", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.user != "" {
				req.Header.Set(auth.DefaultUserHeader, tt.user)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
