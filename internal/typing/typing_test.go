package typing

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// press types key with the given hold time starting at t.
func press(c *Collector, key string, t, hold float64) {
	c.KeyDown(key, t)
	c.KeyUp(key, t+hold)
}

func TestCollector_DwellIsUpMinusDown(t *testing.T) {
	c := NewCollector()
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		press(c, k, float64(i)*200, 80)
	}

	f, ok := c.Extract()
	require.True(t, ok)
	assert.Equal(t, 5, f.SampleSize)
	assert.InDelta(t, 80.0, f.MeanDwellMs, 1e-9)
	assert.InDelta(t, 0.0, f.StdDwellMs, 1e-9)

	// each next press starts 120ms after the previous release
	require.NotNil(t, f.MeanFlightMs)
	assert.InDelta(t, 120.0, *f.MeanFlightMs, 1e-9)
	assert.InDelta(t, 0.0, *f.StdFlightMs, 1e-9)
}

func TestCollector_FewerThanMinSamplesIsNoData(t *testing.T) {
	c := NewCollector()
	for i := 0; i < MinSamples-1; i++ {
		press(c, "x", float64(i)*300, 90)
	}
	_, ok := c.Extract()
	assert.False(t, ok)

	press(c, "x", 5000, 90)
	_, ok = c.Extract()
	assert.True(t, ok)
}

func TestCollector_PairsBySameKey(t *testing.T) {
	c := NewCollector()
	// overlapping presses: a down, b down, a up, b up
	c.KeyDown("a", 0)
	c.KeyDown("b", 50)
	c.KeyUp("a", 100)
	c.KeyUp("b", 200)
	for i := 0; i < 3; i++ {
		press(c, "c", 300+float64(i)*200, 100)
	}

	f, ok := c.Extract()
	require.True(t, ok)
	// dwells: a=100, b=150, c=100 x3 -> mean 110
	assert.InDelta(t, 110.0, f.MeanDwellMs, 1e-9)
}

func TestCollector_IgnoresUnpairedAndRepeats(t *testing.T) {
	c := NewCollector()
	c.KeyUp("z", 10)    // no matching down
	c.KeyDown("q", 100) // held
	c.KeyDown("q", 150) // auto-repeat, ignored
	c.KeyUp("q", 200)   // dwell 100 from the first down
	for i := 0; i < 4; i++ {
		press(c, "w", 400+float64(i)*200, 100)
	}
	f, ok := c.Extract()
	require.True(t, ok)
	assert.Equal(t, 5, f.SampleSize)
	assert.InDelta(t, 100.0, f.MeanDwellMs, 1e-9)
}

func TestCollector_LongPausesAreNotFlights(t *testing.T) {
	c := NewCollector()
	press(c, "a", 0, 50)
	press(c, "b", 10_000, 50) // long pause
	press(c, "c", 10_100, 50)
	press(c, "d", 10_200, 50)
	press(c, "e", 10_300, 50)

	f, ok := c.Extract()
	require.True(t, ok)
	require.NotNil(t, f.MeanFlightMs)
	assert.InDelta(t, 50.0, *f.MeanFlightMs, 1e-9)
}

func TestCollector_BackspaceAndPaste(t *testing.T) {
	c := NewCollector()
	press(c, "a", 0, 50)
	press(c, BackspaceKey, 100, 50)
	press(c, "b", 200, 50)
	press(c, BackspaceKey, 300, 50)
	press(c, "c", 400, 50)
	c.Paste()

	f, ok := c.Extract()
	require.True(t, ok)
	assert.InDelta(t, 0.4, f.BackspaceRatio, 1e-9)
	assert.Equal(t, 1, f.PasteCount)
}

func TestFeatures_CarryNoKeyIdentity(t *testing.T) {
	c := NewCollector()
	for i, k := range []string{"s", "e", "c", "r", "t"} {
		press(c, k, float64(i)*150, 70)
	}
	f, ok := c.Extract()
	require.True(t, ok)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	for _, k := range []string{`"s"`, `"e"`, `"c"`, `"r"`, `"t"`} {
		assert.False(t, strings.Contains(string(raw), k), "payload leaked key %s: %s", k, raw)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 6; i++ {
		press(c, "k", float64(i)*100, 40)
	}
	c.Reset()
	_, ok := c.Extract()
	assert.False(t, ok)
}

func TestFeatures_Validate(t *testing.T) {
	ok := Features{MeanDwellMs: 90, StdDwellMs: 10, BackspaceRatio: 0.1, SampleSize: 12}
	assert.NoError(t, ok.Validate())
	assert.True(t, ok.Sufficient())

	bad := []Features{
		{MeanDwellMs: -1, SampleSize: 5},
		{MeanDwellMs: math.NaN(), SampleSize: 5},
		{MeanDwellMs: 90, BackspaceRatio: 1.5, SampleSize: 5},
		{MeanDwellMs: 90, PasteCount: -2, SampleSize: 5},
		{MeanDwellMs: 90, SampleSize: -1},
	}
	for _, f := range bad {
		assert.ErrorIs(t, f.Validate(), ErrInvalidFeatures)
	}

	assert.False(t, Features{MeanDwellMs: 90, SampleSize: 4}.Sufficient())
}
