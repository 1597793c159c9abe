package scheduler

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"sharepipe/internal/ratelimit"
)

// ReleaseError signals that a job could not run yet and should return to its
// queue after a delay. Releases are not failures: they do not count against
// the share's attempt ceiling.
type ReleaseError struct {
	Reason string
	Delay  time.Duration
}

func (e *ReleaseError) Error() string {
	return "released: " + e.Reason
}

// Release builds a ReleaseError for a capacity or limit condition.
func Release(reason string, delay time.Duration) *ReleaseError {
	return &ReleaseError{Reason: reason, Delay: delay}
}

// RetryDelay decides how long a task waits before its next attempt. Released
// tasks use their carried delay; rate-limit errors use the tracked reset
// floor; genuine failures back off exponentially from the configured base.
func RetryDelay(base, cap time.Duration) func(n int, err error, task *asynq.Task) time.Duration {
	return func(n int, err error, task *asynq.Task) time.Duration {
		var release *ReleaseError
		if errors.As(err, &release) {
			return release.Delay
		}
		return ratelimit.RequeueDelay(err, n, base, cap)
	}
}
