package bridge

import "golang.org/x/time/rate"

// NewCommandLimiter builds the token-bucket limiter guarding
// PlaceOrder/CancelOrder, per spec.md §6.5's bridge-facing rate limiter
// config. capacity is the bucket size (burst); refillPerSec is the
// steady-state token rate.
func NewCommandLimiter(capacity int, refillPerSec float64) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return rate.NewLimiter(rate.Limit(refillPerSec), capacity)
}
