// Package ratelimiter implements the requeue backoff policy of spec
// section 4.3: exponential backoff capped at a maximum, with jitter.
//
// The attempt count itself is tracked nowhere in this package: it lives
// solely in the Queue's entry (pkg/queue), which coalescing Enqueue calls
// reset to 0. A limiter that kept its own parallel per-key attempt
// counter could drift from the Queue's — a freshly observed change would
// be dequeued at queue-attempt 0 but delayed as if it were still failing
// from stale data. Taking attempt as an explicit argument makes that
// drift structurally impossible: there is exactly one place attempt is
// stored.
package ratelimiter

import (
	"math"
	"math/rand"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"golang.org/x/time/rate"
)

// DefaultMaxBackoff matches the original controller's requeue_max_backoff
// default of 120 seconds.
const DefaultMaxBackoff = 120 * time.Second

// RateLimiter computes the delay before a key at the given attempt count
// should become eligible again. Implementations must be safe for
// concurrent use.
type RateLimiter interface {
	// When returns the delay to apply for key's requeue at the given
	// attempt count (as tracked by the Queue, not by the RateLimiter).
	When(key types.NamespacedName, attempt int) time.Duration
}

// ExponentialJitterRateLimiter implements the spec's exact formula:
//
//	delay = min(2^attempt, maxBackoff) + uniform(0,1) seconds
//
// It holds no per-key state; attempt is supplied by the caller on every
// call.
type ExponentialJitterRateLimiter struct {
	maxBackoff time.Duration

	// randFloat is overridable in tests to make jitter deterministic.
	randFloat func() float64
}

// NewExponentialJitterRateLimiter builds the spec-default rate limiter.
// A zero maxBackoff defaults to DefaultMaxBackoff.
func NewExponentialJitterRateLimiter(maxBackoff time.Duration) *ExponentialJitterRateLimiter {
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &ExponentialJitterRateLimiter{
		maxBackoff: maxBackoff,
		randFloat:  rand.Float64,
	}
}

func (r *ExponentialJitterRateLimiter) When(key types.NamespacedName, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if backoff > r.maxBackoff || backoff <= 0 {
		backoff = r.maxBackoff
	}
	jitter := time.Duration(r.randFloat() * float64(time.Second))
	return backoff + jitter
}

// BucketedRateLimiter combines the per-item exponential policy above with
// a global token bucket, taking the MAX of the two delays. This is not
// part of the spec's default behavior but is offered for deployments that
// also need to cap aggregate reconcile throughput against an external
// API, grounded in the design-patterns guide's "custom rate limiter"
// pattern (per-item backoff MAX'd against a token bucket).
type BucketedRateLimiter struct {
	item   *ExponentialJitterRateLimiter
	bucket *rate.Limiter
}

// NewBucketedRateLimiter builds a limiter with the given per-item max
// backoff and a global token bucket of the given QPS/burst.
func NewBucketedRateLimiter(maxBackoff time.Duration, qps float64, burst int) *BucketedRateLimiter {
	return &BucketedRateLimiter{
		item:   NewExponentialJitterRateLimiter(maxBackoff),
		bucket: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

func (r *BucketedRateLimiter) When(key types.NamespacedName, attempt int) time.Duration {
	itemDelay := r.item.When(key, attempt)
	bucketDelay := r.bucket.Reserve().Delay()
	if bucketDelay > itemDelay {
		return bucketDelay
	}
	return itemDelay
}
