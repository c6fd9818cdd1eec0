//go:build integration

package rewards

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/fittrust/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_TotalMatchesHistory(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	record := func(date string, pts string) {
		t.Helper()
		_, err := store.RecordDay(ctx, &DayRecord{
			UserID: "u1", Date: date, HealthScore: 70, Multiplier: 1,
			TotalScore: dec("70"), PointsEarned: dec(pts), UpdatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	record("2026-03-01", "9")
	record("2026-03-02", "12.11")
	record("2026-03-01", "1.5") // overwrite

	total, err := store.Total(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("13.61")), "got %s", total)

	rows, err := store.History(ctx, "u1", "2026-03-02")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-02", rows[0].Date)
	assert.True(t, rows[0].PointsEarned.Equal(dec("12.11")))

	unknown, err := store.Total(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, unknown.IsZero())
}

func TestPostgresStore_ConcurrentWritersSerialize(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	const days = 15
	var wg sync.WaitGroup
	for i := 1; i <= days; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordDay(ctx, &DayRecord{
				UserID: "u1", Date: fmt.Sprintf("2026-02-%02d", i), HealthScore: 60, Multiplier: 1,
				TotalScore: dec("60"), PointsEarned: dec("5"), UpdatedAt: time.Now().UTC(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := store.Total(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(5*days)), "got %s", total)
}
