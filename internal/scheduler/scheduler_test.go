package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Platforms = []string{"youtube", "article"}
	return &cfg
}

func TestQueuesCarryTierWeights(t *testing.T) {
	queues := Queues(testConfig())
	if len(queues) != 6 {
		t.Fatalf("got %d queues, want 6", len(queues))
	}
	cases := map[string]int{
		"youtube.high":   3,
		"youtube.normal": 2,
		"youtube.low":    1,
		"article.high":   3,
		"article.normal": 2,
		"article.low":    1,
	}
	for queue, weight := range cases {
		if got := queues[queue]; got != weight {
			t.Errorf("queue %s weight = %d, want %d", queue, got, weight)
		}
	}
}

func TestTierOf(t *testing.T) {
	if got := TierOf("youtube.high"); got != shares.PriorityHigh {
		t.Errorf("TierOf(youtube.high) = %s", got)
	}
	if got := TierOf("article.normal"); got != shares.PriorityNormal {
		t.Errorf("TierOf(article.normal) = %s", got)
	}
	if got := TierOf("weird"); got != shares.PriorityLow {
		t.Errorf("TierOf(weird) = %s, want low fallback", got)
	}
}

func TestSlotBackoffScalesByTier(t *testing.T) {
	if SlotBackoff(shares.PriorityHigh) >= SlotBackoff(shares.PriorityNormal) {
		t.Error("high tier backoff should be shorter than normal")
	}
	if SlotBackoff(shares.PriorityNormal) >= SlotBackoff(shares.PriorityLow) {
		t.Error("normal tier backoff should be shorter than low")
	}
	if got := SlotBackoff(shares.PriorityHigh); got != 2500*time.Millisecond {
		t.Errorf("high backoff = %s, want 2.5s", got)
	}
}

func TestRetryDelayHonorsRelease(t *testing.T) {
	delay := RetryDelay(time.Second, 5*time.Minute)
	task := asynq.NewTask(TypeFetchShare, nil)

	released := Release("tier at capacity", 10*time.Second)
	if got := delay(3, released, task); got != 10*time.Second {
		t.Errorf("release delay = %s, want carried 10s", got)
	}

	rle := &services.RateLimitError{Platform: "youtube", RetryAfter: 2 * time.Minute}
	if got := delay(1, rle, task); got < 2*time.Minute {
		t.Errorf("rate-limit delay = %s, want at least declared 2m reset", got)
	}

	generic := delay(1, errors.New("boom"), task)
	if generic < time.Second || generic > 2*time.Second {
		t.Errorf("first-attempt failure delay = %s, want ~1s plus jitter", generic)
	}
}

func TestDecodePayloadDefaultsTier(t *testing.T) {
	task := asynq.NewTask(TypeFetchShare,
		[]byte(`{"share_id":"s1","user_id":"u1","platform":"youtube","user_tier":"premium"}`))
	payload, err := DecodePayload(task)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Tier != shares.PriorityHigh {
		t.Errorf("tier = %s, want high derived from premium", payload.Tier)
	}

	bad := asynq.NewTask(TypeFetchShare, []byte(`{nope`))
	if _, err := DecodePayload(bad); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload error = %v, want SkipRetry", err)
	}
}

func TestServerDrainsTiersByWeight(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()

	client := NewClient(cfg, logging.NewNop())
	defer client.Close()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		for _, tier := range []shares.UserTier{shares.TierPremium, shares.TierStandard, shares.TierFree} {
			share := &shares.Share{
				ID:       fmt.Sprintf("share-%s-%d", tier, i),
				UserID:   "user-" + string(tier),
				URL:      "https://youtu.be/v",
				Platform: "youtube",
				UserTier: tier,
			}
			if err := client.EnqueueFetch(ctx, share); err != nil {
				t.Fatalf("enqueue %s: %v", share.ID, err)
			}
		}
	}

	var (
		mu       sync.Mutex
		observed []shares.PriorityTier
		done     = make(chan struct{})
	)
	server := NewServer(cfg, logging.NewNop())
	server.Handle(TypeFetchShare, func(ctx context.Context, payload JobPayload) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, payload.Tier)
		if len(observed) == 12 {
			close(done)
		}
		return nil
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Shutdown()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("queues did not drain in time")
	}

	mu.Lock()
	counts := make(map[shares.PriorityTier]int)
	for _, tier := range observed[:12] {
		counts[tier]++
	}
	mu.Unlock()

	// Weighted dequeue favors premium shares without starving anyone; exact
	// ratios wobble run to run, the ordering must not.
	if counts[shares.PriorityHigh] <= counts[shares.PriorityLow] {
		t.Fatalf("first dozen completions = %v, want the high tier ahead of low", counts)
	}
}

func TestUserLimiterEnforcesTierSlots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewUserLimiter(client, testConfig(), logging.NewNop())
	ctx := context.Background()

	// Free users get exactly one slot.
	if err := limiter.Acquire(ctx, "u-free", shares.TierFree); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := limiter.Acquire(ctx, "u-free", shares.TierFree); !errors.Is(err, services.ErrUserBusy) {
		t.Fatalf("second acquire = %v, want user busy", err)
	}

	limiter.Release(ctx, "u-free")
	if err := limiter.Acquire(ctx, "u-free", shares.TierFree); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	// Premium users hold more slots, and users do not share counters.
	for i := 0; i < 5; i++ {
		if err := limiter.Acquire(ctx, "u-prem", shares.TierPremium); err != nil {
			t.Fatalf("premium acquire %d: %v", i+1, err)
		}
	}
	if err := limiter.Acquire(ctx, "u-prem", shares.TierPremium); !errors.Is(err, services.ErrUserBusy) {
		t.Fatalf("sixth premium acquire = %v, want user busy", err)
	}
	if n, err := limiter.InFlight(ctx, "u-prem"); err != nil || n != 5 {
		t.Fatalf("InFlight = %d (%v), want 5", n, err)
	}
}

func TestUserLimiterReleaseNeverGoesNegative(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewUserLimiter(client, testConfig(), logging.NewNop())
	ctx := context.Background()

	limiter.Release(ctx, "u-1")
	limiter.Release(ctx, "u-1")
	if err := limiter.Acquire(ctx, "u-1", shares.TierFree); err != nil {
		t.Fatalf("acquire after spurious releases: %v", err)
	}
	if n, _ := limiter.InFlight(ctx, "u-1"); n != 1 {
		t.Fatalf("InFlight = %d, want 1", n)
	}
}
