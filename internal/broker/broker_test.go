package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
)

func TestReconnectDelaySequence(t *testing.T) {
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
		60 * time.Second, 60 * time.Second,
	}
	for i, expected := range want {
		if got := ReconnectDelay(i + 1); got != expected {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, got, expected)
		}
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker opened after %d failures: %v", i+1, err)
		}
	}
	b.RecordFailure()
	if err := b.Allow(); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("Allow() after 5 failures = %v, want circuit open", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %s, want open", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	b.RecordFailure()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker opened after success reset a 4-failure streak: %v", err)
	}
}

func TestBreakerSingleProbeAfterCooldown(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if err := b.Allow(); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("Allow() during cooldown = %v, want circuit open", err)
	}

	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe after cooldown rejected: %v", err)
	}
	// Only one probe may be in flight.
	if err := b.Allow(); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("second concurrent probe allowed, want circuit open")
	}

	// Failed probe restarts the cooldown.
	b.RecordFailure()
	if err := b.Allow(); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("Allow() right after failed probe = %v, want circuit open", err)
	}
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe after second cooldown rejected: %v", err)
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("State() after successful probe = %s, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after breaker closed: %v", err)
	}
}

func testBrokerConfig() config.Broker {
	return config.Broker{
		StreamPrefix:            "sharepipe:tasks",
		ConnectTimeoutSeconds:   2,
		HeartbeatSeconds:        60,
		ReconnectMaxAttempts:    10,
		BreakerFailureThreshold: 5,
		BreakerCooldownSeconds:  30,
	}
}

func TestPublishConfirmsViaStreamEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	conn := NewConnection(testBrokerConfig(), config.Redis{Addr: mr.Addr()}, logging.NewNop())
	defer conn.Close()
	if err := conn.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	pub := NewPublisher(conn, NewBreaker(5, 30*time.Second), "sharepipe:tasks", logging.NewNop())
	err := pub.Publish(context.Background(), TaskTranscribe, "share-1", "corr-1", map[string]any{
		"media_url": "https://cdn.example/v.mp4",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	client, err := conn.Client()
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	n, err := client.XLen(context.Background(), "sharepipe:tasks:transcribe").Result()
	if err != nil || n != 1 {
		t.Fatalf("stream length = %d (%v), want 1", n, err)
	}
}

func TestPublishWhileDisconnectedIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	conn := NewConnection(testBrokerConfig(), config.Redis{Addr: mr.Addr()}, logging.NewNop())
	defer conn.Close()

	pub := NewPublisher(conn, NewBreaker(5, 30*time.Second), "sharepipe:tasks", logging.NewNop())
	err := pub.Publish(context.Background(), TaskEmbed, "share-1", "corr-1", nil)
	if !errors.Is(err, services.ErrBrokerUnavailable) {
		t.Fatalf("Publish without link = %v, want broker unavailable", err)
	}
}

func TestPublishFailuresTripBreaker(t *testing.T) {
	conn := NewConnection(testBrokerConfig(), config.Redis{Addr: "127.0.0.1:0"}, logging.NewNop())
	defer conn.Close()

	pub := NewPublisher(conn, NewBreaker(5, 30*time.Second), "sharepipe:tasks", logging.NewNop())
	for i := 0; i < 5; i++ {
		if err := pub.Publish(context.Background(), TaskSummarize, "share-1", "corr-1", nil); err == nil {
			t.Fatalf("Publish %d succeeded without a link", i+1)
		}
	}
	err := pub.Publish(context.Background(), TaskSummarize, "share-1", "corr-1", nil)
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("Publish after 5 failures = %v, want circuit open", err)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	conn := NewConnection(testBrokerConfig(), config.Redis{Addr: mr.Addr()}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for conn.Status().State != StateConnected {
		select {
		case <-deadline:
			t.Fatalf("connection never reached connected, state=%s", conn.Status().State)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, err := conn.Client(); err != nil {
		t.Fatalf("Client() while connected: %v", err)
	}

	conn.MarkDisconnected(errors.New("peer reset"))
	if _, err := conn.Client(); !errors.Is(err, services.ErrBrokerUnavailable) {
		t.Fatalf("Client() after MarkDisconnected = %v, want broker unavailable", err)
	}

	// The loop reconnects on its own.
	deadline = time.After(5 * time.Second)
	for conn.Status().State != StateConnected {
		select {
		case <-deadline:
			t.Fatalf("connection never recovered, state=%s", conn.Status().State)
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if conn.Status().State != StateClosed {
		t.Fatalf("state after Close = %s, want closed", conn.Status().State)
	}
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	cfg := testBrokerConfig()
	cfg.ReconnectMaxAttempts = 2
	cfg.ConnectTimeoutSeconds = 1
	conn := NewConnection(cfg, config.Redis{Addr: "127.0.0.1:1"}, logging.NewNop())

	var intervened error
	notified := make(chan struct{})
	conn.OnIntervention(func(lastErr error) {
		intervened = lastErr
		close(notified)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case <-notified:
	case <-time.After(10 * time.Second):
		t.Fatal("intervention callback never fired")
	}
	if intervened == nil {
		t.Fatal("intervention callback received nil error")
	}
	if conn.Status().State != StateNeedsIntervention {
		t.Fatalf("state = %s, want needs_intervention", conn.Status().State)
	}

	conn.Close()
	<-done
}
