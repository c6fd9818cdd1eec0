//go:build integration

package verification

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/fittrust/internal/pagination"
	"github.com/mbd888/fittrust/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_AppendListCount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db))
	ctx := context.Background()

	entity := "sleep-42"
	first, err := svc.RecordEvent(ctx, RecordInput{
		UserID: "u1", EntityType: EntitySleep, EntityID: &entity, Method: MethodConsistencyCheck,
		Metadata: Metadata{Consistency: &ConsistencyDetail{Result: "pass", Reason: "within_range"}},
	})
	require.NoError(t, err)
	_, err = svc.RecordEvent(ctx, RecordInput{
		UserID: "u1", EntityType: EntityWorkout, Method: MethodConsistencyCheck, Status: StatusFlagged,
	})
	require.NoError(t, err)
	_, err = svc.RecordEvent(ctx, RecordInput{UserID: "u2", EntityType: EntityDevice, Method: MethodWearableSync})
	require.NoError(t, err)

	events, err := svc.ListEvents(ctx, "u1", Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EntityWorkout, events[0].EntityType, "newest first")
	assert.Equal(t, first.ID, events[1].ID)
	require.NotNil(t, events[1].EntityID)
	assert.Equal(t, entity, *events[1].EntityID)
	require.NotNil(t, events[1].Metadata.Consistency)
	assert.Equal(t, "within_range", events[1].Metadata.Consistency.Reason)

	page, err := svc.ListPage(ctx, "u1", Filter{Limit: 1})
	require.NoError(t, err)
	require.True(t, page.HasMore)
	cursor, err := pagination.Decode(page.NextCursor)
	require.NoError(t, err)
	page, err = svc.ListPage(ctx, "u1", Filter{Limit: 1, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, first.ID, page.Events[0].ID)
	assert.False(t, page.HasMore)

	sleepOnly, err := svc.ListEvents(ctx, "u1", Filter{EntityType: EntitySleep})
	require.NoError(t, err)
	assert.Len(t, sleepOnly, 1)

	passes, err := svc.CountSince(ctx, "u1", MethodConsistencyCheck, StatusVerified, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, passes)

	all, err := NewPostgresStore(db).Count(ctx, "u1", CountQuery{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, all)
}
