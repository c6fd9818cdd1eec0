// Package confidence scores how well-verified a user's self-reported data is.
//
// The score is purely additive: it can raise a reward multiplier above 1.0
// but never lower the underlying health score. Inputs are counted over
// sliding windows at call time, so duplicate events from a re-run job only
// inflate a bounded window.
package confidence

import (
	"math"
)

// Level is the discrete band of a score.
type Level string

const (
	LevelLow    Level = "low"    // 0-49
	LevelMedium Level = "medium" // 50-74
	LevelHigh   Level = "high"   // 75-100
)

// Factors are the raw inputs to the score.
type Factors struct {
	HasWearable                 bool `json:"hasWearable"`
	ConsistencyPassesLast30Days int  `json:"consistencyPassesLast30Days"`
	SurveyCompletionsLast90Days int  `json:"surveyCompletionsLast90Days"`
	DaysActive                  int  `json:"daysActive"`
}

// Breakdown exposes each component's contribution.
type Breakdown struct {
	WearablePoints    float64 `json:"wearablePoints"`
	ConsistencyPoints float64 `json:"consistencyPoints"`
	SurveyPoints      float64 `json:"surveyPoints"`
	TenurePoints      float64 `json:"tenurePoints"`
}

// Score is a computed confidence result.
type Score struct {
	Score     int       `json:"score"` // 0-100
	Level     Level     `json:"level"`
	Breakdown Breakdown `json:"breakdown"`
}

// Weights configures the component caps and rates. The caps sum to 100.
type Weights struct {
	WearablePoints     float64
	PointsPerPass      float64
	ConsistencyCap     float64
	PointsPerSurvey    float64
	SurveyCap          float64
	TenureCap          float64
	TenureSaturateDays float64
}

// DefaultWeights gives the wearable bonus 30% of the maximum.
var DefaultWeights = Weights{
	WearablePoints:     30,
	PointsPerPass:      1.5, // 20 passes saturate
	ConsistencyCap:     30,
	PointsPerSurvey:    5, // 4 surveys saturate
	SurveyCap:          20,
	TenureCap:          20,
	TenureSaturateDays: 180,
}

// MaxMultiplierBonus is the reward bonus at a perfect score.
const MaxMultiplierBonus = 0.25

// Calculator computes confidence scores. It performs no I/O.
type Calculator struct {
	weights Weights
}

// NewCalculator creates a calculator with DefaultWeights.
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

// NewCalculatorWithWeights creates a calculator with custom weights.
func NewCalculatorWithWeights(w Weights) *Calculator {
	return &Calculator{weights: w}
}

// Calculate scores f. Negative counts are treated as zero.
func (c *Calculator) Calculate(f Factors) Score {
	w := c.weights
	var b Breakdown

	if f.HasWearable {
		b.WearablePoints = w.WearablePoints
	}
	b.ConsistencyPoints = math.Min(w.ConsistencyCap, float64(nonNeg(f.ConsistencyPassesLast30Days))*w.PointsPerPass)
	b.SurveyPoints = math.Min(w.SurveyCap, float64(nonNeg(f.SurveyCompletionsLast90Days))*w.PointsPerSurvey)
	if w.TenureSaturateDays > 0 {
		b.TenurePoints = math.Min(w.TenureCap, float64(nonNeg(f.DaysActive))*w.TenureCap/w.TenureSaturateDays)
	}

	total := b.WearablePoints + b.ConsistencyPoints + b.SurveyPoints + b.TenurePoints
	score := int(math.Round(math.Max(0, math.Min(100, total))))

	return Score{
		Score:     score,
		Level:     LevelFor(score),
		Breakdown: b,
	}
}

// LevelFor maps a score to its band.
func LevelFor(score int) Level {
	switch {
	case score >= 75:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Multiplier converts a score into a reward multiplier in [1.0, 1.25].
func Multiplier(score int) float64 {
	s := math.Max(0, math.Min(100, float64(score)))
	return 1 + MaxMultiplierBonus*s/100
}

func nonNeg(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
