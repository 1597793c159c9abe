package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"sharepipe/internal/services"
)

const (
	requeueBackoffBase = time.Second
	requeueBackoffCap  = 5 * time.Minute
	jitterFraction     = 0.2
)

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RequeueDelay computes how long a rate-limited job should wait before its
// next attempt. The result is never below the provider-declared retry-after,
// grows with the attempt count, and carries jitter so a burst of jobs hitting
// the same limit does not retry in lockstep.
func (t *Tracker) RequeueDelay(err error, attempt int) time.Duration {
	floor := t.defaultWindow
	if rle, ok := services.AsRateLimit(err); ok && rle.RetryAfter > 0 {
		floor = rle.RetryAfter
	}

	backoff := backoffForAttempt(attempt)
	delay := floor
	if backoff > delay {
		delay = backoff
	}
	return delay + jitter(delay)
}

// RequeueDelay is the standalone variant used by the scheduler retry policy.
// Genuine failures back off exponentially between base and cap with jitter;
// rate-limit errors never retry before their declared reset.
func RequeueDelay(err error, attempt int, base, cap time.Duration) time.Duration {
	backoff := scaledBackoff(attempt, base, cap)
	if rle, ok := services.AsRateLimit(err); ok && rle.RetryAfter > backoff {
		backoff = rle.RetryAfter
	}
	return backoff + jitter(backoff)
}

func backoffForAttempt(attempt int) time.Duration {
	return scaledBackoff(attempt, requeueBackoffBase, requeueBackoffCap)
}

func scaledBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = requeueBackoffBase
	}
	if cap <= 0 {
		cap = requeueBackoffCap
	}
	backoff := base
	for i := 1; i < attempt && backoff < cap; i++ {
		backoff *= 2
	}
	if backoff > cap {
		backoff = cap
	}
	return backoff
}

func jitter(delay time.Duration) time.Duration {
	span := int64(float64(delay) * jitterFraction)
	if span <= 0 {
		return 0
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return time.Duration(jitterRng.Int63n(span))
}
