package broker

import (
	"fmt"
	"sync"
	"time"

	"sharepipe/internal/services"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// Breaker is a fail-fast guard around the publish path. It opens after a
// threshold of consecutive failures; while open, callers fail immediately
// without touching the network. After the cooldown elapses exactly one probe
// is allowed through: success closes the breaker, failure re-opens it and
// restarts the cooldown.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	state     BreakerState
	failures  int
	openUntil time.Time
	probing   bool

	now func() time.Time
}

// BreakerStatus is a point-in-time view for the observability surface.
type BreakerStatus struct {
	State     BreakerState `json:"state"`
	Failures  int          `json:"failures"`
	OpenUntil time.Time    `json:"open_until,omitzero"`
}

// NewBreaker constructs a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a publish attempt may proceed. While the breaker is
// open within its cooldown, or another probe is already in flight, it returns
// a circuit-open error carrying the remaining wait.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerClosed {
		return nil
	}

	now := b.now()
	if now.Before(b.openUntil) {
		return services.Wrap(services.ErrCircuitOpen, "broker", "publish",
			fmt.Sprintf("circuit open for another %s", b.openUntil.Sub(now).Round(time.Millisecond)), nil)
	}
	if b.probing {
		return services.Wrap(services.ErrCircuitOpen, "broker", "publish", "probe already in flight", nil)
	}
	b.probing = true
	return nil
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a publish failure, opening the breaker at the
// threshold. A failed probe re-opens immediately and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerOpen {
		// Probe failed.
		b.probing = false
		b.openUntil = b.now().Add(b.cooldown)
		return
	}
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for diagnostics.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := BreakerStatus{State: b.state, Failures: b.failures}
	if b.state == BreakerOpen {
		status.OpenUntil = b.openUntil
	}
	return status
}
