package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sharepipe/internal/broker"
	"sharepipe/internal/config"
	"sharepipe/internal/fetch"
	"sharepipe/internal/logging"
	"sharepipe/internal/orchestrator"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/shares"
	"sharepipe/internal/testsupport"
	"sharepipe/internal/workflow"
)

type capturingPublisher struct {
	tasks []capturedTask
}

type capturedTask struct {
	Kind          broker.TaskKind
	ShareID       string
	CorrelationID string
}

func (p *capturingPublisher) Publish(ctx context.Context, kind broker.TaskKind, shareID, correlationID string, payload map[string]any) error {
	p.tasks = append(p.tasks, capturedTask{Kind: kind, ShareID: shareID, CorrelationID: correlationID})
	return nil
}

type stubEnqueuer struct {
	fetches int
}

func (s *stubEnqueuer) EnqueueFetch(ctx context.Context, share *shares.Share) error {
	s.fetches++
	return nil
}

func (s *stubEnqueuer) EnqueueDownload(ctx context.Context, share *shares.Share) error {
	return nil
}

type openLimiter struct{}

func (openLimiter) Acquire(ctx context.Context, userID string, tier shares.UserTier) error {
	return nil
}
func (openLimiter) Release(ctx context.Context, userID string) {}

type stubRegistry struct{}

func (stubRegistry) For(platform string) fetch.Fetcher { return nil }

type apiFixture struct {
	server    *httptest.Server
	daemon    *Daemon
	store     *shares.Store
	cfg       *config.Config
	publisher *capturingPublisher
	enqueuer  *stubEnqueuer
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	store := testsupport.MustOpenStore(t, cfg)

	publisher := &capturingPublisher{}
	enqueuer := &stubEnqueuer{}
	controller := workflow.NewController(store, publisher, enqueuer, cfg, logging.NewNop())
	tracker := ratelimit.NewTracker(cfg, logging.NewNop())
	orch := orchestrator.New(store, enqueuer, openLimiter{}, tracker, stubRegistry{}, controller, cfg, logging.NewNop())
	conn := broker.NewConnection(cfg.Broker, cfg.Redis, logging.NewNop())

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewNop(),
		store:      store,
		conn:       conn,
		orch:       orch,
		controller: controller,
	}
	srv, err := newAPIServer(cfg, d, logging.NewNop())
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return &apiFixture{server: ts, daemon: d, store: store, cfg: cfg, publisher: publisher, enqueuer: enqueuer}
}

func (fx *apiFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(fx.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	fx := newAPIFixture(t, "")
	resp, err := http.Get(fx.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Broker.State != broker.StateDisconnected {
		t.Errorf("broker state = %s, want disconnected", status.Broker.State)
	}
}

func TestSubmitAndFetchShare(t *testing.T) {
	fx := newAPIFixture(t, "")
	resp := fx.post(t, "/api/shares", map[string]string{
		"user_id":   "user-1",
		"url":       "https://youtu.be/abc",
		"user_tier": "premium",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var share shares.Share
	if err := json.NewDecoder(resp.Body).Decode(&share); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if share.Platform != "youtube" || share.UserTier != shares.TierPremium {
		t.Errorf("share = %+v", share)
	}
	if fx.enqueuer.fetches != 1 {
		t.Errorf("fetch jobs = %d, want 1", fx.enqueuer.fetches)
	}

	got, err := http.Get(fx.server.URL + "/api/shares/" + share.ID)
	if err != nil {
		t.Fatalf("GET share: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", got.StatusCode)
	}
}

func TestSubmitShareRejectsBadURL(t *testing.T) {
	fx := newAPIFixture(t, "")
	resp := fx.post(t, "/api/shares", map[string]string{
		"user_id": "user-1",
		"url":     "notaurl",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	fx := newAPIFixture(t, "sekrit")

	resp, err := http.Get(fx.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, fx.server.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestMLCallbackAdvancesWorkflow(t *testing.T) {
	fx := newAPIFixture(t, "")
	share := testsupport.NewShare(t, fx.store, "share-cb", "user-1", "https://example.com/x", "article", shares.TierStandard)
	err := fx.daemon.controller.OnFetched(context.Background(), share, &fetch.Result{Title: "an essay"})
	if err != nil {
		t.Fatalf("OnFetched: %v", err)
	}

	var summarize capturedTask
	for _, task := range fx.publisher.tasks {
		if task.Kind == broker.TaskSummarize {
			summarize = task
		}
	}
	if summarize.CorrelationID == "" {
		t.Fatal("no summarize task published")
	}

	resp := fx.post(t, "/api/callbacks/ml", map[string]any{
		"share_id":       share.ID,
		"kind":           "summarize",
		"correlation_id": summarize.CorrelationID,
		"succeeded":      true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want 200", resp.StatusCode)
	}

	record, err := fx.store.GetEnhancement(context.Background(), share.ID)
	if err != nil {
		t.Fatalf("GetEnhancement: %v", err)
	}
	if record.Summary != shares.PhaseCompleted {
		t.Errorf("summary = %s, want completed", record.Summary)
	}
}

func TestRetryEndpointRequiresErroredShare(t *testing.T) {
	fx := newAPIFixture(t, "")
	share := testsupport.NewShare(t, fx.store, "share-ok", "user-1", "https://example.com/y", "article", shares.TierFree)

	resp := fx.post(t, fmt.Sprintf("/api/shares/%s/retry", share.ID), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRetryEndpointRequeuesErroredShare(t *testing.T) {
	fx := newAPIFixture(t, "")
	share := testsupport.NewShare(t, fx.store, "share-err", "user-1", "https://example.com/z", "article", shares.TierFree)
	if err := fx.store.SetError(context.Background(), share.ID, "terminal", "gone"); err != nil {
		t.Fatalf("SetError: %v", err)
	}

	resp := fx.post(t, fmt.Sprintf("/api/shares/%s/retry", share.ID), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if fx.enqueuer.fetches != 1 {
		t.Errorf("fetch jobs after retry = %d, want 1", fx.enqueuer.fetches)
	}
	got, _ := fx.store.GetByID(context.Background(), share.ID)
	if got.Status != shares.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}
