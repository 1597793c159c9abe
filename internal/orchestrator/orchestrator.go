package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"sharepipe/internal/config"
	"sharepipe/internal/fetch"
	"sharepipe/internal/logging"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/shares"
	"sharepipe/internal/workflow"
)

// FetchEnqueuer schedules the initial fetch job for an accepted share.
type FetchEnqueuer interface {
	EnqueueFetch(ctx context.Context, share *shares.Share) error
}

// UserLimiter gates per-user in-flight job slots.
type UserLimiter interface {
	Acquire(ctx context.Context, userID string, tier shares.UserTier) error
	Release(ctx context.Context, userID string)
}

// FetcherRegistry resolves a platform to its content fetcher.
type FetcherRegistry interface {
	For(platform string) fetch.Fetcher
}

// Orchestrator accepts submissions and runs the scheduler job handlers.
type Orchestrator struct {
	store      *shares.Store
	enqueuer   FetchEnqueuer
	limiter    UserLimiter
	tracker    *ratelimit.Tracker
	fetchers   FetcherRegistry
	controller *workflow.Controller
	cfg        *config.Config
	logger     *slog.Logger
}

// New wires the orchestrator over its collaborators.
func New(store *shares.Store, enqueuer FetchEnqueuer, limiter UserLimiter, tracker *ratelimit.Tracker,
	fetchers FetcherRegistry, controller *workflow.Controller, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		enqueuer:   enqueuer,
		limiter:    limiter,
		tracker:    tracker,
		fetchers:   fetchers,
		controller: controller,
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// SubmitShare accepts one user submission. Submissions are idempotent per
// (user, url): resubmitting an in-flight or finished share returns the
// existing record instead of creating a duplicate.
func (o *Orchestrator) SubmitShare(ctx context.Context, userID, rawURL string, tier shares.UserTier) (*shares.Share, error) {
	platform, err := ClassifyPlatform(rawURL)
	if err != nil {
		return nil, err
	}

	if existing, err := o.store.FindByUserAndURL(ctx, userID, rawURL); err == nil && existing != nil {
		o.logger.Info("duplicate submission returned existing share",
			logging.String(logging.FieldShareID, existing.ID),
			logging.String(logging.FieldUserID, userID))
		return existing, nil
	}

	share, err := o.store.NewShare(ctx, uuid.NewString(), userID, rawURL, platform, tier)
	if err != nil {
		return nil, err
	}
	if err := o.enqueuer.EnqueueFetch(ctx, share); err != nil {
		// The share stays pending; the stale reclaim pass will requeue it.
		o.logger.Warn("fetch enqueue failed after accept",
			logging.String(logging.FieldShareID, share.ID),
			logging.Error(err))
		return share, err
	}

	o.logger.Info("share accepted",
		logging.String(logging.FieldShareID, share.ID),
		logging.String(logging.FieldUserID, userID),
		logging.String(logging.FieldPlatform, platform),
		logging.String(logging.FieldTier, string(share.Priority())))
	return share, nil
}

// EnqueueRetry resumes an errored share. Shares that failed mid-enhancement
// re-drive their failed phase; shares that never got past fetch go back on
// the fetch queue.
func (o *Orchestrator) EnqueueRetry(ctx context.Context, share *shares.Share) error {
	if shares.IsFailedState(share.WorkflowState) {
		return o.controller.RetryFailedPhase(ctx, share)
	}
	return o.enqueuer.EnqueueFetch(ctx, share)
}

// Register installs the job handlers on the scheduler server.
func (o *Orchestrator) Register(server *scheduler.Server) {
	server.Handle(scheduler.TypeFetchShare, o.HandleFetch)
	server.Handle(scheduler.TypeDownloadMedia, o.HandleDownload)
}

// Tracker exposes rate limit headroom for the status surface.
func (o *Orchestrator) Tracker() *ratelimit.Tracker {
	return o.tracker
}
