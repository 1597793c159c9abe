package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"sharepipe/internal/broker"
	"sharepipe/internal/config"
	"sharepipe/internal/fetch"
	"sharepipe/internal/logging"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
	"sharepipe/internal/testsupport"
	"sharepipe/internal/workflow"
)

type fakeEnqueuer struct {
	mu      sync.Mutex
	fetches []string
	fail    error
}

func (f *fakeEnqueuer) EnqueueFetch(ctx context.Context, share *shares.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.fetches = append(f.fetches, share.ID)
	return nil
}

func (f *fakeEnqueuer) EnqueueDownload(ctx context.Context, share *shares.Share) error {
	return nil
}

type fakeLimiter struct {
	busy bool
}

func (f *fakeLimiter) Acquire(ctx context.Context, userID string, tier shares.UserTier) error {
	if f.busy {
		return services.Wrap(services.ErrUserBusy, "scheduler", "acquire_slot", "user at in-flight ceiling", nil)
	}
	return nil
}

func (f *fakeLimiter) Release(ctx context.Context, userID string) {}

type fakeFetcher struct {
	result *fetch.Result
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	return f.result, f.err
}

type fakeRegistry struct {
	fetcher *fakeFetcher
}

func (f *fakeRegistry) For(platform string) fetch.Fetcher { return f.fetcher }

type fakePublisher struct {
	mu        sync.Mutex
	fail      error
	published []broker.TaskKind
}

func (f *fakePublisher) Publish(ctx context.Context, kind broker.TaskKind, shareID, correlationID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.published = append(f.published, kind)
	return nil
}

func (f *fakePublisher) kinds() []broker.TaskKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.TaskKind(nil), f.published...)
}

type fixture struct {
	orch      *Orchestrator
	store     *shares.Store
	cfg       *config.Config
	enqueuer  *fakeEnqueuer
	limiter   *fakeLimiter
	fetcher   *fakeFetcher
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	enqueuer := &fakeEnqueuer{}
	limiter := &fakeLimiter{}
	fetcher := &fakeFetcher{result: &fetch.Result{Title: "a page"}}
	publisher := &fakePublisher{}
	tracker := ratelimit.NewTracker(cfg, logging.NewNop())
	controller := workflow.NewController(store, publisher, enqueuer, cfg, logging.NewNop())
	orch := New(store, enqueuer, limiter, tracker, &fakeRegistry{fetcher: fetcher}, controller, cfg, logging.NewNop())
	return &fixture{orch: orch, store: store, cfg: cfg, enqueuer: enqueuer, limiter: limiter, fetcher: fetcher, publisher: publisher}
}

func TestClassifyPlatform(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", "youtube"},
		{"https://youtu.be/abc", "youtube"},
		{"https://m.youtube.com/watch?v=abc", "youtube"},
		{"https://www.tiktok.com/@user/video/123", "tiktok"},
		{"https://www.instagram.com/reel/abc/", "instagram"},
		{"https://blog.example.com/post", "article"},
	}
	for _, tc := range cases {
		got, err := ClassifyPlatform(tc.url)
		if err != nil {
			t.Errorf("ClassifyPlatform(%s): %v", tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ClassifyPlatform(%s) = %s, want %s", tc.url, got, tc.want)
		}
	}

	for _, bad := range []string{"", "notaurl", "ftp://example.com/x"} {
		if _, err := ClassifyPlatform(bad); !errors.Is(err, services.ErrValidation) {
			t.Errorf("ClassifyPlatform(%q) = %v, want validation error", bad, err)
		}
	}
}

func TestSubmitShareIsIdempotentPerUserAndURL(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.orch.SubmitShare(ctx, "user-1", "https://youtu.be/abc", shares.TierStandard)
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	if first.Platform != "youtube" {
		t.Errorf("platform = %s, want youtube", first.Platform)
	}

	second, err := fx.orch.SubmitShare(ctx, "user-1", "https://youtu.be/abc", shares.TierStandard)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("resubmission created a new share %s, want %s", second.ID, first.ID)
	}

	// A different user submitting the same URL gets their own share.
	other, err := fx.orch.SubmitShare(ctx, "user-2", "https://youtu.be/abc", shares.TierFree)
	if err != nil {
		t.Fatalf("other user submit: %v", err)
	}
	if other.ID == first.ID {
		t.Error("shares are per user, not global per URL")
	}

	if len(fx.enqueuer.fetches) != 2 {
		t.Errorf("fetch jobs enqueued = %d, want 2", len(fx.enqueuer.fetches))
	}
}

func TestHandleFetchDrivesShareIntoWorkflow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	share, err := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierPremium)
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}

	err = fx.orch.HandleFetch(ctx, scheduler.JobPayload{
		ShareID:  share.ID,
		UserID:   share.UserID,
		Platform: share.Platform,
		UserTier: share.UserTier,
		Tier:     share.Priority(),
	})
	if err != nil {
		t.Fatalf("HandleFetch: %v", err)
	}

	got, err := fx.store.GetByID(ctx, share.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "a page" {
		t.Errorf("title = %q, want fetched metadata persisted", got.Title)
	}
	if got.WorkflowState == shares.StateNone {
		t.Error("fetch completion did not enter the workflow")
	}

	// Redelivery of the same job is a no-op.
	if err := fx.orch.HandleFetch(ctx, scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	}); err != nil {
		t.Fatalf("redelivered HandleFetch: %v", err)
	}
}

func TestHandleFetchReleasesWhenUserBusy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	share, _ := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierFree)
	fx.limiter.busy = true

	err := fx.orch.HandleFetch(ctx, scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	})
	var release *scheduler.ReleaseError
	if !errors.As(err, &release) {
		t.Fatalf("error = %v, want release", err)
	}
	if release.Delay != scheduler.SlotBackoff(shares.PriorityLow) {
		t.Errorf("release delay = %s, want low-tier backoff", release.Delay)
	}

	got, _ := fx.store.GetByID(ctx, share.ID)
	if got.Status != shares.StatusPending {
		t.Errorf("released share status = %s, want still pending", got.Status)
	}
}

func TestHandleFetchTerminalErrorSettlesShare(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	share, _ := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierStandard)
	fx.fetcher.result = nil
	fx.fetcher.err = services.Wrap(services.ErrNotFound, "fetch", "request", "upstream returned 404", nil)

	err := fx.orch.HandleFetch(ctx, scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	})
	if err == nil {
		t.Fatal("terminal fetch error swallowed")
	}

	got, _ := fx.store.GetByID(ctx, share.ID)
	if got.Status != shares.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorCode != "terminal" {
		t.Errorf("error code = %q", got.ErrorCode)
	}
}

func TestHandleFetchRateLimitPropagates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	share, _ := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierStandard)
	fx.fetcher.result = nil
	fx.fetcher.err = &services.RateLimitError{Platform: "article", RetryAfter: 30 * time.Second}

	err := fx.orch.HandleFetch(ctx, scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	})
	if _, ok := services.AsRateLimit(err); !ok {
		t.Fatalf("error = %v, want rate limit to propagate for delay computation", err)
	}

	got, _ := fx.store.GetByID(ctx, share.ID)
	if got.Status == shares.StatusError {
		t.Error("rate limited share must not settle in error")
	}

	// The declared wait must reach the tracker so other queued jobs for the
	// platform stop passing Check during it.
	if err := fx.orch.Tracker().Check("article", shares.PriorityNormal); err == nil {
		t.Error("tracker still grants calls after the platform declared a wait")
	}
}

func TestHandleFetchResumesAfterPublishFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	share, err := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierStandard)
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	payload := scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	}

	fx.publisher.fail = services.Wrap(services.ErrCircuitOpen, "broker", "publish",
		"circuit open, task not published", nil)
	if err := fx.orch.HandleFetch(ctx, payload); err == nil {
		t.Fatal("publish failure must surface so the job is redelivered")
	}
	stuck, _ := fx.store.GetByID(ctx, share.ID)
	if stuck.WorkflowState != shares.StateFetched {
		t.Fatalf("workflow state = %s, want the fetched checkpoint kept", stuck.WorkflowState)
	}
	if len(fx.publisher.kinds()) != 0 {
		t.Fatal("no task must be recorded as published while the broker is down")
	}

	// Redelivery after the broker recovers finishes the workflow tail
	// without refetching.
	fx.publisher.fail = nil
	if err := fx.orch.HandleFetch(ctx, payload); err != nil {
		t.Fatalf("redelivered HandleFetch: %v", err)
	}

	got, _ := fx.store.GetByID(ctx, share.ID)
	if got.WorkflowState == shares.StateFetched || got.WorkflowState == shares.StateFastEmbeddingQueued {
		t.Fatalf("workflow state = %s, want progress past the stranded checkpoint", got.WorkflowState)
	}
	if got.Status == shares.StatusError {
		t.Error("transient publish failure must not settle the share in error")
	}
	published := fx.publisher.kinds()
	if len(published) == 0 || published[0] != broker.TaskEmbedFast {
		t.Fatalf("published = %v, want the fast embedding first", published)
	}
}

func TestReleasesDoNotConsumeFailureBudget(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Scheduler.MaxAttempts = 2
	ctx := context.Background()
	share, err := fx.orch.SubmitShare(ctx, "user-1", "https://blog.example.com/post", shares.TierFree)
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	payload := scheduler.JobPayload{
		ShareID: share.ID, UserID: share.UserID, Platform: share.Platform,
		UserTier: share.UserTier, Tier: share.Priority(),
	}

	// Repeated slot contention releases far beyond the attempt ceiling.
	fx.limiter.busy = true
	for i := 0; i < 5; i++ {
		err := fx.orch.HandleFetch(ctx, payload)
		var release *scheduler.ReleaseError
		if !errors.As(err, &release) {
			t.Fatalf("release %d = %v, want release", i+1, err)
		}
	}

	fx.limiter.busy = false
	fx.fetcher.result = nil
	fx.fetcher.err = services.Wrap(services.ErrTransient, "fetch", "request", "upstream 503", nil)

	err = fx.orch.HandleFetch(ctx, payload)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("first genuine failure = %v, want retryable", err)
	}
	got, _ := fx.store.GetByID(ctx, share.ID)
	if got.Status == shares.StatusError {
		t.Fatal("share errored after releases plus a single failure")
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want releases excluded from the count", got.Attempts)
	}

	// The reclaim pass returns the share to pending before redelivery.
	if _, err := fx.store.ReclaimStaleInFlight(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ReclaimStaleInFlight: %v", err)
	}

	err = fx.orch.HandleFetch(ctx, payload)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("second genuine failure = %v, want terminal skip", err)
	}
	got, _ = fx.store.GetByID(ctx, share.ID)
	if got.Status != shares.StatusError || got.ErrorCode != "attempts_exhausted" {
		t.Fatalf("share = %s/%s, want attempts_exhausted error", got.Status, got.ErrorCode)
	}
}
