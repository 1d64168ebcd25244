// Package breaker implements the per-printer failure-isolation state
// machine (closed -> open -> half_open). A tripped breaker only ever
// affects its own printer.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the breaker's tunables; zero value falls back to the
// spec defaults via WithDefaults.
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenProbes   int
}

// WithDefaults fills any zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = 5 * time.Minute
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// Breaker tracks one printer's health. Safe for concurrent use,
// though in practice only the printer's own dispatcher worker touches
// it: breaker state is per-printer, never shared under a lock with
// other breakers.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	openUntil           time.Time
	halfOpenInFlight    int

	now func() time.Time // overridable for tests; monotonic in production
}

// New returns a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.WithDefaults(), state: Closed, now: time.Now}
}

// Admit reports whether a request may proceed right now. In the
// half_open state it reserves one of the allowed probe slots; callers
// that are admitted MUST eventually call Success or Failure to
// release it.
func (b *Breaker) Admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.state = HalfOpen
		b.halfOpenInFlight = 0
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenProbes {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

// Release gives back an Admit slot without recording an outcome, for
// a caller that was admitted but found no work to actually send (the
// dispatcher's GetItem when the queue has nothing leasable for this
// printer).
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// Success records a successful request, resetting the breaker to
// closed from any state.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.halfOpenInFlight--
	}
	b.state = Closed
	b.consecutiveFailures = 0
}

// Failure records a failed request. In closed state it trips the
// breaker once consecutiveFailures reaches the threshold; in
// half_open it immediately reopens and extends openUntil.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()
	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.trip()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openUntil = b.lastFailureAt.Add(b.cfg.OpenDuration)
}

// Snapshot returns the breaker's current observable state, for the
// health endpoint and for persistence alongside the printer record.
func (b *Breaker) Snapshot() (state State, consecutiveFailures int, lastFailureAt, openUntil time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures, b.lastFailureAt, b.openUntil
}
