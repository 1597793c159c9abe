package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// Tracker holds per-platform rate-limit state shared by all workers.
type Tracker struct {
	mu        sync.Mutex
	platforms map[string]*platformState

	defaultLimit  int
	defaultWindow time.Duration
	allocations   map[shares.PriorityTier]float64

	logger *slog.Logger
	now    func() time.Time
}

type platformState struct {
	limit     int
	remaining int
	resetAt   time.Time
	tierUsed  map[shares.PriorityTier]int

	// authoritative flips once upstream headers have been observed; until
	// then the pacer provides conservative local throttling.
	authoritative bool
	pacer         *rate.Limiter

	consecutiveFailures int
}

// Snapshot is a point-in-time view of one platform's budget for observability.
type Snapshot struct {
	Platform            string                      `json:"platform"`
	Limit               int                         `json:"limit"`
	Remaining           int                         `json:"remaining"`
	ResetAt             time.Time                   `json:"reset_at"`
	TierUsed            map[shares.PriorityTier]int `json:"tier_used"`
	Authoritative       bool                        `json:"authoritative"`
	ConsecutiveFailures int                         `json:"consecutive_failures"`
}

// NewTracker constructs a tracker from configuration.
func NewTracker(cfg *config.Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		platforms:     make(map[string]*platformState),
		defaultLimit:  cfg.RateLimit.DefaultLimit,
		defaultWindow: time.Duration(cfg.RateLimit.DefaultWindowSeconds) * time.Second,
		allocations: map[shares.PriorityTier]float64{
			shares.PriorityHigh:   cfg.RateLimit.HighAllocation,
			shares.PriorityNormal: cfg.RateLimit.NormalAllocation,
			shares.PriorityLow:    cfg.RateLimit.LowAllocation,
		},
		logger: logging.NewComponentLogger(logger, "rate-limit"),
		now:    time.Now,
	}
}

// Check consumes one call from the platform budget for the given tier, or
// fails fast with a rate-limit error carrying the wait until headroom returns.
// The budget never goes negative: a denied caller must requeue, not barge.
func (t *Tracker) Check(platform string, tier shares.PriorityTier) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(platform)
	t.rollWindowLocked(st)

	if !st.authoritative {
		reservation := st.pacer.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			return &services.RateLimitError{Platform: platform, RetryAfter: delay}
		}
	}

	if st.remaining <= 0 {
		return &services.RateLimitError{Platform: platform, RetryAfter: t.untilResetLocked(st)}
	}

	budget := t.tierBudget(st.limit, tier)
	if st.tierUsed[tier] >= budget {
		return &services.RateLimitError{Platform: platform, RetryAfter: t.untilResetLocked(st)}
	}

	st.remaining--
	st.tierUsed[tier]++
	return nil
}

// UpdateFromResponse refreshes platform state from upstream response headers.
// This is the authoritative source of truth; local estimates are corrected on
// every call. Missing headers leave the current estimate untouched.
func (t *Tracker) UpdateFromResponse(platform string, headers http.Header) {
	info, ok := parseHeaders(headers, t.now())
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(platform)
	if info.limit > 0 {
		st.limit = info.limit
	}
	if info.remaining >= 0 {
		st.remaining = info.remaining
	}
	if !info.resetAt.IsZero() {
		st.resetAt = info.resetAt
	}
	if !st.authoritative {
		st.authoritative = true
		t.logger.Debug("platform reported rate-limit headers",
			logging.String(logging.FieldPlatform, platform),
			logging.Int("limit", st.limit),
			logging.Int("remaining", st.remaining),
		)
	}
}

// NoteRateLimited applies an explicit rate-limit rejection from the platform:
// the budget is emptied until the declared retry-after elapses, so queued jobs
// for the same platform stop calling during the wait. Without a declared wait
// the default window applies.
func (t *Tracker) NoteRateLimited(platform string, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(platform)
	st.remaining = 0
	if retryAfter <= 0 {
		retryAfter = t.defaultWindow
	}
	// The provider's declared wait supersedes the local reset estimate.
	st.resetAt = t.now().Add(retryAfter)
	t.logger.Warn("platform declared rate limit",
		logging.String(logging.FieldPlatform, platform),
		logging.Duration("retry_after", retryAfter))
}

// NoteFailure records a failed platform call for the consecutive-failure count.
func (t *Tracker) NoteFailure(platform string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateLocked(platform).consecutiveFailures++
}

// NoteSuccess resets the consecutive-failure count after a successful call.
func (t *Tracker) NoteSuccess(platform string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateLocked(platform).consecutiveFailures = 0
}

// Headroom returns a snapshot per known platform for the observability surface.
func (t *Tracker) Headroom() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(t.platforms))
	for name, st := range t.platforms {
		used := make(map[shares.PriorityTier]int, len(st.tierUsed))
		for tier, count := range st.tierUsed {
			used[tier] = count
		}
		snapshots = append(snapshots, Snapshot{
			Platform:            name,
			Limit:               st.limit,
			Remaining:           st.remaining,
			ResetAt:             st.resetAt,
			TierUsed:            used,
			Authoritative:       st.authoritative,
			ConsecutiveFailures: st.consecutiveFailures,
		})
	}
	return snapshots
}

func (t *Tracker) stateLocked(platform string) *platformState {
	st, ok := t.platforms[platform]
	if !ok {
		perSecond := float64(t.defaultLimit) / t.defaultWindow.Seconds()
		burst := t.defaultLimit / 4
		if burst < 1 {
			burst = 1
		}
		st = &platformState{
			limit:     t.defaultLimit,
			remaining: t.defaultLimit,
			resetAt:   t.now().Add(t.defaultWindow),
			tierUsed:  make(map[shares.PriorityTier]int),
			pacer:     rate.NewLimiter(rate.Limit(perSecond), burst),
		}
		t.platforms[platform] = st
	}
	return st
}

func (t *Tracker) rollWindowLocked(st *platformState) {
	if t.now().Before(st.resetAt) {
		return
	}
	st.remaining = st.limit
	st.resetAt = t.now().Add(t.defaultWindow)
	for tier := range st.tierUsed {
		st.tierUsed[tier] = 0
	}
}

func (t *Tracker) untilResetLocked(st *platformState) time.Duration {
	until := st.resetAt.Sub(t.now())
	if until <= 0 {
		until = t.defaultWindow
	}
	return until
}

func (t *Tracker) tierBudget(limit int, tier shares.PriorityTier) int {
	fraction, ok := t.allocations[tier]
	if !ok {
		fraction = t.allocations[shares.PriorityLow]
	}
	budget := int(fraction * float64(limit))
	if budget < 1 {
		budget = 1
	}
	return budget
}
