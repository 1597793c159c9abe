package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sharepipe/internal/broker"
	"sharepipe/internal/daemon"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/shares"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	body := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", writeTestConfig(t)))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommandRendersReport(t *testing.T) {
	status := daemon.Status{
		Running: true,
		Broker: broker.Status{
			State:          broker.StateConnected,
			ConnectedSince: time.Now().Add(-time.Minute),
			Breaker:        broker.BreakerStatus{State: broker.BreakerClosed},
		},
		Shares: shares.HealthSummary{Total: 4, Pending: 1, Done: 2, Errored: 1},
		Queues: []scheduler.QueueDepth{
			{Queue: "youtube.high", Weight: 3, Pending: 2},
			{Queue: "youtube.low", Weight: 1},
		},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(status)
	}))
	defer server.Close()

	out, err := runCLI(t, []string{"status", "--server", server.URL})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"== Broker ==", "[OK] connected", "== Shares ==", "1 errored", "youtube.high"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSubmitCommandSendsRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(shares.Share{
			ID:       "share-1",
			UserID:   gotBody["user_id"],
			Platform: "youtube",
			UserTier: shares.TierPremium,
			Status:   shares.StatusPending,
		})
	}))
	defer server.Close()

	out, err := runCLI(t, []string{
		"submit", "https://youtu.be/abc",
		"--user", "user-1", "--tier", "premium",
		"--server", server.URL, "--token", "sekrit",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotBody["url"] != "https://youtu.be/abc" || gotBody["user_tier"] != "premium" {
		t.Fatalf("unexpected body: %#v", gotBody)
	}
	if !strings.Contains(out, "Share share-1 accepted") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "high priority") {
		t.Fatalf("expected priority in output:\n%s", out)
	}
}

func TestSharesListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "error" {
			t.Errorf("expected status filter, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"shares": []shares.Share{
			{
				ID:            "share-2",
				UserID:        "user-7",
				Platform:      "tiktok",
				UserTier:      shares.TierFree,
				Status:        shares.StatusError,
				WorkflowState: shares.FailedState(shares.PhaseTranscription),
				UpdatedAt:     time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
			},
		}})
	}))
	defer server.Close()

	out, err := runCLI(t, []string{"shares", "list", "--status", "error", "--server", server.URL})
	if err != nil {
		t.Fatalf("shares list: %v", err)
	}
	for _, want := range []string{"share-2", "tiktok", "failed_transcription", "2026-03-01 10:30"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSharesRetryReportsOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/shares/share-3/retry" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"retried": 1})
	}))
	defer server.Close()

	out, err := runCLI(t, []string{"shares", "retry", "share-3", "--server", server.URL})
	if err != nil {
		t.Fatalf("shares retry: %v", err)
	}
	if !strings.Contains(out, "Share share-3 requeued") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "only errored shares can be retried"})
	}))
	defer server.Close()

	_, err := runCLI(t, []string{"shares", "retry", "share-4", "--server", server.URL})
	if err == nil || !strings.Contains(err.Error(), "only errored shares can be retried") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Broker", statusError, "needs_intervention", false)
	if !strings.Contains(got, "[ERROR] needs_intervention") {
		t.Fatalf("unexpected line %q", got)
	}
	if strings.Contains(got, ansiReset) {
		t.Fatalf("expected no color codes in %q", got)
	}
}
