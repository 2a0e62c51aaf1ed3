// Package risk implements the pre-trade gate and circuit breaker that
// guard order submission (spec.md §4.9), generalized from the teacher's
// risk_state.go RiskState (a ticking publisher of simulated drawdown and
// crisis-mode metrics) into a synchronous gate evaluated per order.
package risk

import (
	"fmt"
	"math"
	"sync"
)

// RejectReason classifies a pre-trade gate failure.
type RejectReason string

const (
	ReasonInsufficientFunds RejectReason = "InsufficientFunds"
	ReasonPositionLimit     RejectReason = "PositionLimit"
	ReasonPriceDeviation    RejectReason = "PriceDeviation"
)

// RejectError is returned by RiskEngine.Check when an order fails the
// pre-trade gate.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return string(e.Reason)
}

// OrderIntent is the subset of an order request the gate needs. Price is
// ignored for market orders (HasPrice=false).
type OrderIntent struct {
	Symbol   string
	Qty      float64
	Price    float64
	HasPrice bool
}

// Limits configures the three checks of spec.md §4.9. A zero
// MaxPositionSize or zero MaxDeviation disables that check.
type Limits struct {
	AccountBalance  float64
	MaxPositionSize float64
	ReferencePrice  float64
	HasReference    bool
	MaxDeviation    float64
}

// RiskEngine runs the pre-trade checks in sequence, failing fast on the
// first violation, per spec.md §4.9.
type RiskEngine struct {
	mu     sync.RWMutex
	limits Limits
}

// NewRiskEngine builds a gate from the given limits.
func NewRiskEngine(limits Limits) *RiskEngine {
	return &RiskEngine{limits: limits}
}

// SetLimits replaces the engine's limits (e.g. after an account balance
// update). Safe for concurrent use with Check: the limits are guarded by
// the engine's own lock, matching spec.md's "each shared resource has its
// own lock" model.
func (e *RiskEngine) SetLimits(limits Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = limits
}

// Check runs the available-funds, max-position-size, and max-price-
// deviation checks in order, returning a *RejectError on the first
// failure.
func (e *RiskEngine) Check(intent OrderIntent) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if intent.HasPrice {
		if intent.Qty*intent.Price > e.limits.AccountBalance {
			return &RejectError{Reason: ReasonInsufficientFunds, Detail: fmt.Sprintf("qty*price=%.8f > balance=%.8f", intent.Qty*intent.Price, e.limits.AccountBalance)}
		}
	}

	if e.limits.MaxPositionSize > 0 && intent.Qty > e.limits.MaxPositionSize {
		return &RejectError{Reason: ReasonPositionLimit, Detail: fmt.Sprintf("qty=%.8f > max_position_size=%.8f", intent.Qty, e.limits.MaxPositionSize)}
	}

	if intent.HasPrice && e.limits.HasReference && e.limits.MaxDeviation > 0 && e.limits.ReferencePrice != 0 {
		dev := math.Abs(intent.Price-e.limits.ReferencePrice) / e.limits.ReferencePrice
		if dev > e.limits.MaxDeviation {
			return &RejectError{Reason: ReasonPriceDeviation, Detail: fmt.Sprintf("deviation=%.6f > max=%.6f", dev, e.limits.MaxDeviation)}
		}
	}

	return nil
}
