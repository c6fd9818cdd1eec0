// Package rewards converts a day's health score, scaled by the user's
// confidence multiplier, into reward points and tracks the cumulative tier.
//
// Points are exact decimals truncated to the cent. The cumulative total is
// always recomputed from the full history, never incremented in place.
package rewards

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxTotalScore is the highest attainable combined score: a health
	// score of 110 times the 1.25 multiplier ceiling is capped here.
	MaxTotalScore = 110
	// PointsThreshold is the lowest combined score that earns anything.
	PointsThreshold = 50
	// HistoryWindow bounds the history returned by a points query.
	HistoryWindow = 30 * 24 * time.Hour
)

var (
	pointsBase  = decimal.NewFromInt(1)
	pointsRate  = decimal.RequireFromString("0.4")
	threshold   = decimal.NewFromInt(PointsThreshold)
	maxTotal    = decimal.NewFromInt(MaxTotalScore)
	centsPlaces = int32(2)
)

// Tier is a cumulative points band.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// tierFloors lists each tier with the cumulative points needed to enter it.
var tierFloors = []struct {
	tier  Tier
	floor decimal.Decimal
}{
	{TierBronze, decimal.Zero},
	{TierSilver, decimal.NewFromInt(250)},
	{TierGold, decimal.NewFromInt(500)},
	{TierPlatinum, decimal.NewFromInt(1000)},
	{TierDiamond, decimal.NewFromInt(1500)},
}

// Points converts a combined score into points: 0 below 50, otherwise
// 1 + (total-50)*0.4 truncated (not rounded) to two decimals. Scores above
// MaxTotalScore are capped, so a day never earns more than 25 points.
func Points(total decimal.Decimal) decimal.Decimal {
	if total.LessThan(threshold) {
		return decimal.Zero
	}
	total = decimal.Min(total, maxTotal)
	return pointsBase.Add(total.Sub(threshold).Mul(pointsRate)).Truncate(centsPlaces)
}

// TotalScore combines a health score with a confidence multiplier. The
// multiplier never falls below 1, so confidence can only add. The result is
// exact; Points must see it untruncated.
func TotalScore(health, multiplier float64) decimal.Decimal {
	if multiplier < 1 {
		multiplier = 1
	}
	t := decimal.NewFromFloat(health).Mul(decimal.NewFromFloat(multiplier))
	return decimal.Min(t, maxTotal)
}

// TierStatus describes where a cumulative total sits on the tier ladder.
// NextTier and PointsToNext are nil at the top tier.
type TierStatus struct {
	Tier         Tier
	NextTier     *Tier
	PointsToNext *decimal.Decimal
}

// TierFor places a cumulative points total on the ladder.
func TierFor(cumulative decimal.Decimal) TierStatus {
	idx := 0
	for i, t := range tierFloors {
		if cumulative.GreaterThanOrEqual(t.floor) {
			idx = i
		}
	}
	st := TierStatus{Tier: tierFloors[idx].tier}
	if idx+1 < len(tierFloors) {
		next := tierFloors[idx+1]
		remaining := next.floor.Sub(decimal.Max(cumulative, decimal.Zero))
		st.NextTier = &next.tier
		st.PointsToNext = &remaining
	}
	return st
}

// DayRecord is one (user, date) history row. Re-recording a date
// overwrites it.
type DayRecord struct {
	UserID          string
	Date            string // YYYY-MM-DD
	HealthScore     float64
	ConfidenceScore int
	Multiplier      float64
	TotalScore      decimal.Decimal
	PointsEarned    decimal.Decimal
	UpdatedAt       time.Time
}

// Store persists history rows and the derived running total.
type Store interface {
	// RecordDay upserts the row for (UserID, Date), then recomputes and
	// stores the user's total from the full history as one atomic step.
	// It returns the new total.
	RecordDay(ctx context.Context, rec *DayRecord) (decimal.Decimal, error)
	// Total returns the stored running total, zero for unknown users.
	Total(ctx context.Context, userID string) (decimal.Decimal, error)
	// History returns rows dated on or after since, newest first.
	History(ctx context.Context, userID, since string) ([]*DayRecord, error)
}
