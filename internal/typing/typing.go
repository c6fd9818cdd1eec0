// Package typing reduces raw key timing events into aggregate keystroke
// statistics.
//
// The collector is meant to run next to the input widget (it has no I/O).
// Key identity is used only to pair a key-down with its key-up; the
// extracted Features carry no key information at all. Attach a collector to
// non-sensitive fields only: never to password inputs.
package typing

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mbd888/fittrust/internal/baseline"
)

// MinSamples is the minimum number of paired key presses before a feature
// vector is produced. Fewer yields no data rather than a noisy estimate.
const MinSamples = 5

// MaxFlightMs drops key-to-key gaps longer than this; they are pauses, not
// typing rhythm.
const MaxFlightMs = 2000

// BackspaceKey is the key name counted towards the backspace ratio.
const BackspaceKey = "Backspace"

var ErrInvalidFeatures = errors.New("invalid typing features")

// Features is the privacy-safe summary that leaves the client.
type Features struct {
	MeanDwellMs    float64  `json:"meanDwellMs"`
	StdDwellMs     float64  `json:"stdDwellMs"`
	MeanFlightMs   *float64 `json:"meanFlightMs,omitempty"`
	StdFlightMs    *float64 `json:"stdFlightMs,omitempty"`
	BackspaceRatio float64  `json:"backspaceRatio"`
	PasteCount     int      `json:"pasteCount"`
	SampleSize     int      `json:"sampleSize"`
}

// Sufficient reports whether the vector is backed by enough paired samples.
func (f Features) Sufficient() bool {
	return f.SampleSize >= MinSamples
}

// Validate checks that a feature vector received from a client is well formed.
func (f Features) Validate() error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch {
	case f.SampleSize < 0:
		return fmt.Errorf("%w: sampleSize must be >= 0", ErrInvalidFeatures)
	case !finite(f.MeanDwellMs) || f.MeanDwellMs < 0:
		return fmt.Errorf("%w: meanDwellMs must be a non-negative number", ErrInvalidFeatures)
	case !finite(f.StdDwellMs) || f.StdDwellMs < 0:
		return fmt.Errorf("%w: stdDwellMs must be a non-negative number", ErrInvalidFeatures)
	case !finite(f.BackspaceRatio) || f.BackspaceRatio < 0 || f.BackspaceRatio > 1:
		return fmt.Errorf("%w: backspaceRatio must be within [0,1]", ErrInvalidFeatures)
	case f.PasteCount < 0:
		return fmt.Errorf("%w: pasteCount must be >= 0", ErrInvalidFeatures)
	}
	if f.MeanFlightMs != nil && !finite(*f.MeanFlightMs) {
		return fmt.Errorf("%w: meanFlightMs must be a number", ErrInvalidFeatures)
	}
	if f.StdFlightMs != nil && (!finite(*f.StdFlightMs) || *f.StdFlightMs < 0) {
		return fmt.Errorf("%w: stdFlightMs must be a non-negative number", ErrInvalidFeatures)
	}
	return nil
}

// Collector accumulates key events. Timestamps are milliseconds on any
// monotonic clock; only differences are used. Safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	pending    map[string]float64
	dwells     []float64
	flights    []float64
	lastUp     float64
	hasLastUp  bool
	keyDowns   int
	backspaces int
	pastes     int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{pending: make(map[string]float64)}
}

// KeyDown records a key press. Auto-repeat downs for a key that is already
// held are ignored.
func (c *Collector) KeyDown(key string, atMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.pending[key]; held {
		return
	}
	c.pending[key] = atMs
	c.keyDowns++
	if key == BackspaceKey {
		c.backspaces++
	}
	if c.hasLastUp {
		if gap := atMs - c.lastUp; gap <= MaxFlightMs {
			c.flights = append(c.flights, gap)
		}
	}
}

// KeyUp records a key release and, when it matches a held key, one dwell
// sample. Releases without a matching press are ignored.
func (c *Collector) KeyUp(key string, atMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	down, ok := c.pending[key]
	if !ok {
		return
	}
	delete(c.pending, key)
	if atMs < down {
		return
	}
	c.dwells = append(c.dwells, atMs-down)
	c.lastUp = atMs
	c.hasLastUp = true
}

// Paste records a paste into the field.
func (c *Collector) Paste() {
	c.mu.Lock()
	c.pastes++
	c.mu.Unlock()
}

// Extract returns the feature vector, or ok=false when fewer than
// MinSamples key presses were paired.
func (c *Collector) Extract() (Features, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dwells) < MinSamples {
		return Features{}, false
	}
	dwell, ok := baseline.Summarize(c.dwells)
	if !ok {
		return Features{}, false
	}

	f := Features{
		MeanDwellMs: dwell.Mean,
		StdDwellMs:  dwell.Std,
		PasteCount:  c.pastes,
		SampleSize:  len(c.dwells),
	}
	if c.keyDowns > 0 {
		f.BackspaceRatio = float64(c.backspaces) / float64(c.keyDowns)
	}
	if flight, ok := baseline.Summarize(c.flights); ok {
		f.MeanFlightMs = &flight.Mean
		f.StdFlightMs = &flight.Std
	}
	return f, true
}

// Reset discards all collected events.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]float64)
	c.dwells = nil
	c.flights = nil
	c.hasLastUp = false
	c.keyDowns, c.backspaces, c.pastes = 0, 0, 0
}
