// Package circuitbreaker trips calls to an optional dependency after a run
// of failures. While a circuit is open callers skip the dependency entirely;
// after a cool-down a single trial call decides whether it closes again.
//
// The confidence cache is the main user: when Redis is down, lookups fall
// through to the ledger without paying a dial timeout each time.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of one keyed circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fittrust",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state changes by dependency key.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

// ErrOpen is returned by Do while the circuit for a key rejects calls.
var ErrOpen = errors.New("circuit open")

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker holds one circuit per dependency key.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	trip     int
	coolDown time.Duration
	now      func() time.Time
}

// New returns a breaker that opens a key's circuit after trip consecutive
// failures and admits a trial call once coolDown has passed.
func New(trip int, coolDown time.Duration) *Breaker {
	if trip <= 0 {
		trip = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		trip:     trip,
		coolDown: coolDown,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call for key may proceed. An open circuit whose
// cool-down has elapsed moves to half-open and admits exactly one caller.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.coolDown {
			return false
		}
		b.setState(key, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess clears the failure run and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return
	}
	c.failures = 0
	if c.state == StateHalfOpen {
		b.setState(key, c, StateClosed)
	}
}

// RecordFailure extends the failure run. A failed trial call reopens the
// circuit immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		c.openedAt = b.now()
		b.setState(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.trip:
		c.openedAt = b.now()
		b.setState(key, c, StateOpen)
	}
}

// Do runs fn when the circuit allows it and records the outcome. Errors
// matching ignore, such as a cache miss, count as successes but are still
// returned.
func (b *Breaker) Do(key string, fn func() error, ignore ...error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	if err != nil && !matchesAny(err, ignore) {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return err
}

// State returns the key's current state. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.circuits[key]; c != nil {
		return c.state
	}
	return StateClosed
}

// b.mu must be held.
func (b *Breaker) setState(key string, c *circuit, to State) {
	if c.state == to {
		return
	}
	transitionsTotal.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
