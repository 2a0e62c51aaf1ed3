package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BreakerState is one of Closed/Open/HalfOpen (spec.md §4.9).
type BreakerState string

const (
	BreakerClosed   BreakerState = "Closed"
	BreakerOpen     BreakerState = "Open"
	BreakerHalfOpen BreakerState = "HalfOpen"
)

// CircuitBreakerConfig configures trip and recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// CircuitBreaker short-circuits order submission after a run of
// consecutive adapter failures, per spec.md §4.9. Trips are counted on
// a prometheus counter in the same shape as the teacher's
// circuitBreakers CounterVec (risk_state.go:46), labeled by venue
// instead of app mode.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	consecutiveSuccess  int
	lastFailureAt       time.Time
	trips               prometheus.Counter

	now func() time.Time
}

// NewCircuitBreaker builds a Closed breaker for one venue/label.
func NewCircuitBreaker(venue string, cfg CircuitBreakerConfig) *CircuitBreaker {
	trips := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "risk_circuit_breaker_trips_total",
		Help:        "Total number of circuit breaker trips into Open.",
		ConstLabels: prometheus.Labels{"venue": venue},
	})
	_ = prometheus.Register(trips)

	return &CircuitBreaker{
		cfg:   cfg,
		state: BreakerClosed,
		trips: trips,
		now:   time.Now,
	}
}

// State returns the breaker's current state, performing the auto-reset
// check (Open→HalfOpen after timeout) under the same lock as every
// other transition, per spec.md §4.9's "serialized under one lock"
// requirement.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

// AllowRequest reports whether a request may proceed, promoting
// Open→HalfOpen if the timeout has elapsed.
func (b *CircuitBreaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state != BreakerOpen
}

func (b *CircuitBreaker) maybeRecoverLocked() {
	if b.state != BreakerOpen {
		return
	}
	if b.now().Sub(b.lastFailureAt) >= b.cfg.Timeout {
		b.state = BreakerHalfOpen
		b.consecutiveSuccess = 0
	}
}

// RecordSuccess registers a successful call. In HalfOpen, enough
// consecutive successes close the breaker and reset its counters.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()

	switch b.state {
	case BreakerHalfOpen:
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccess = 0
		}
	case BreakerClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure registers a failed call. In Closed, enough consecutive
// failures trips the breaker Open. Any failure in HalfOpen re-opens it.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()

	b.lastFailureAt = b.now()
	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case BreakerHalfOpen:
		b.tripLocked()
	}
}

func (b *CircuitBreaker) tripLocked() {
	b.state = BreakerOpen
	b.consecutiveSuccess = 0
	b.trips.Inc()
}

// Reset forces the breaker into HalfOpen, per spec.md §4.9's reset()
// primitive.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerHalfOpen
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
}
