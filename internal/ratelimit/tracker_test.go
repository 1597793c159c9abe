package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	cfg := config.Default()
	return NewTracker(&cfg, logging.NewNop())
}

func authoritativeHeaders(limit, remaining, resetSeconds int) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
	return h
}

func TestCheckEnforcesTierAllocationsFromSharedBudget(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.UpdateFromResponse("youtube", authoritativeHeaders(20, 20, 60))

	// Low tier gets 15% of 20, so the fourth call must be denied even though
	// the platform as a whole still has headroom.
	for i := 0; i < 3; i++ {
		if err := tracker.Check("youtube", shares.PriorityLow); err != nil {
			t.Fatalf("low call %d: %v", i+1, err)
		}
	}
	err := tracker.Check("youtube", shares.PriorityLow)
	rle, ok := services.AsRateLimit(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rle.Platform != "youtube" || rle.RetryAfter <= 0 {
		t.Fatalf("unexpected rate limit error: %+v", rle)
	}

	// Other tiers still draw from the shared budget.
	if err := tracker.Check("youtube", shares.PriorityHigh); err != nil {
		t.Fatalf("high tier should still have allocation: %v", err)
	}
}

func TestCheckNeverDrivesBudgetNegative(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.UpdateFromResponse("tiktok", authoritativeHeaders(100, 2, 60))

	if err := tracker.Check("tiktok", shares.PriorityHigh); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := tracker.Check("tiktok", shares.PriorityHigh); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if _, ok := services.AsRateLimit(tracker.Check("tiktok", shares.PriorityHigh)); !ok {
		t.Fatal("expected exhausted budget to deny the third call")
	}

	snapshots := tracker.Headroom()
	if len(snapshots) != 1 || snapshots[0].Remaining != 0 {
		t.Fatalf("expected remaining 0, got %+v", snapshots)
	}
}

func TestWindowResetRestoresBudget(t *testing.T) {
	tracker := newTestTracker(t)
	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.UpdateFromResponse("youtube", authoritativeHeaders(10, 1, 30))
	if err := tracker.Check("youtube", shares.PriorityHigh); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, ok := services.AsRateLimit(tracker.Check("youtube", shares.PriorityHigh)); !ok {
		t.Fatal("expected denial before reset")
	}

	current = current.Add(31 * time.Second)
	if err := tracker.Check("youtube", shares.PriorityHigh); err != nil {
		t.Fatalf("expected budget back after reset, got %v", err)
	}
}

func TestUpdateFromResponseCorrectsLocalEstimate(t *testing.T) {
	tracker := newTestTracker(t)

	// Local estimate starts at the configured default.
	if err := tracker.Check("instagram", shares.PriorityHigh); err != nil {
		t.Fatalf("initial call: %v", err)
	}

	tracker.UpdateFromResponse("instagram", authoritativeHeaders(60, 0, 45))
	if _, ok := services.AsRateLimit(tracker.Check("instagram", shares.PriorityHigh)); !ok {
		t.Fatal("expected headers reporting zero remaining to deny calls")
	}

	snapshot := tracker.Headroom()[0]
	if !snapshot.Authoritative {
		t.Fatal("expected snapshot to be authoritative after headers")
	}
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.NoteFailure("youtube")
	tracker.NoteFailure("youtube")
	if got := tracker.Headroom()[0].ConsecutiveFailures; got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}
	tracker.NoteSuccess("youtube")
	if got := tracker.Headroom()[0].ConsecutiveFailures; got != 0 {
		t.Fatalf("failures = %d after success, want 0", got)
	}
}

func TestRequeueDelayFloorsAtRetryAfter(t *testing.T) {
	tracker := newTestTracker(t)
	err := &services.RateLimitError{Platform: "youtube", RetryAfter: 2 * time.Minute}

	delay := tracker.RequeueDelay(err, 1)
	if delay < 2*time.Minute {
		t.Fatalf("delay %v below declared retry-after", delay)
	}
	if delay > 2*time.Minute+24*time.Second {
		t.Fatalf("delay %v exceeds retry-after plus jitter", delay)
	}
}

func TestRequeueDelayScalesWithAttempts(t *testing.T) {
	tracker := newTestTracker(t)
	plain := errors.New("upstream 503")

	// Early attempts floor at the platform window; by attempt eight the
	// exponential backoff dominates.
	early := tracker.RequeueDelay(plain, 1)
	if early < time.Minute {
		t.Fatalf("attempt 1 delay %v below the window floor", early)
	}
	late := tracker.RequeueDelay(plain, 8)
	if late <= early {
		t.Fatalf("expected attempt scaling, got attempt1=%v attempt8=%v", early, late)
	}
	if capped := tracker.RequeueDelay(plain, 20); capped > requeueBackoffCap+time.Duration(float64(requeueBackoffCap)*jitterFraction) {
		t.Fatalf("delay %v exceeds cap plus jitter", capped)
	}
}

func TestParseHeadersResetVariants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(90*time.Second).Unix(), 10))
	info, ok := parseHeaders(h, now)
	if !ok || !info.resetAt.Equal(now.Add(90*time.Second)) {
		t.Fatalf("unix reset parsed as %v", info.resetAt)
	}

	h = http.Header{}
	h.Set("RateLimit-Reset", "45")
	info, ok = parseHeaders(h, now)
	if !ok || !info.resetAt.Equal(now.Add(45*time.Second)) {
		t.Fatalf("delta reset parsed as %v", info.resetAt)
	}
}

func TestRetryAfterFromHeaders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "120")
	if got := RetryAfterFromHeaders(h, now); got != 2*time.Minute {
		t.Fatalf("seconds variant = %v", got)
	}

	h = http.Header{}
	h.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
	if got := RetryAfterFromHeaders(h, now); got != 30*time.Second {
		t.Fatalf("http date variant = %v", got)
	}

	if got := RetryAfterFromHeaders(http.Header{}, now); got != 0 {
		t.Fatalf("absent header = %v", got)
	}
}

func TestNoteRateLimitedEmptiesBudgetUntilDeclaredWait(t *testing.T) {
	tracker := newTestTracker(t)
	current := time.Now()
	tracker.now = func() time.Time { return current }

	if err := tracker.Check("youtube", shares.PriorityHigh); err != nil {
		t.Fatalf("first check: %v", err)
	}

	tracker.NoteRateLimited("youtube", 30*time.Second)

	err := tracker.Check("youtube", shares.PriorityHigh)
	rle, ok := services.AsRateLimit(err)
	if !ok {
		t.Fatalf("check after declared limit = %v, want rate limit error", err)
	}
	if rle.RetryAfter <= 0 || rle.RetryAfter > 30*time.Second {
		t.Fatalf("retry after = %s, want within the declared 30s wait", rle.RetryAfter)
	}

	// Another tier must not slip past the platform-wide stop either.
	if err := tracker.Check("youtube", shares.PriorityLow); err == nil {
		t.Fatal("low tier admitted during a declared platform wait")
	}

	current = current.Add(31 * time.Second)
	if err := tracker.Check("youtube", shares.PriorityHigh); err != nil {
		t.Fatalf("check after wait elapsed: %v", err)
	}
}
