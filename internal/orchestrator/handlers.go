package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"sharepipe/internal/fileutil"
	"sharepipe/internal/logging"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// HandleFetch runs the fetch job for one share. Delivery is at least once,
// so the handler checks persisted state before acting and treats a share
// already past fetching as done.
func (o *Orchestrator) HandleFetch(ctx context.Context, payload scheduler.JobPayload) error {
	ctx = services.WithShareID(ctx, payload.ShareID)
	ctx = services.WithPlatform(ctx, payload.Platform)

	share, err := o.store.GetByID(ctx, payload.ShareID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("share %s vanished: %w", payload.ShareID, asynq.SkipRetry)
		}
		return err
	}
	if share.Status == shares.StatusDone || share.Status == shares.StatusError {
		return nil
	}
	switch share.WorkflowState {
	case shares.StateNone:
	case shares.StateFetched, shares.StateFastEmbeddingQueued:
		// Metadata is already persisted; a publish or selection step did not
		// finish before, so re-enter the workflow without refetching.
		if err := o.controller.Resume(ctx, share); err != nil {
			return o.classify(ctx, share, err)
		}
		return nil
	default:
		// A phase is in flight; result callbacks and the timeout sweep own it.
		return nil
	}

	if err := o.limiter.Acquire(ctx, payload.UserID, payload.UserTier); err != nil {
		if errors.Is(err, services.ErrUserBusy) {
			return scheduler.Release("user at in-flight ceiling", scheduler.SlotBackoff(payload.Tier))
		}
		return err
	}
	defer o.limiter.Release(ctx, payload.UserID)

	if err := o.tracker.Check(payload.Platform, payload.Tier); err != nil {
		return o.classify(ctx, share, err)
	}

	if err := o.store.UpdateStatusIf(ctx, share.ID, shares.StatusFetching,
		shares.StatusPending, shares.StatusProcessing); err != nil {
		if errors.Is(err, services.ErrConflict) {
			// Another worker owns this share.
			return nil
		}
		return err
	}
	share.Status = shares.StatusFetching
	if err := o.store.UpdateHeartbeat(ctx, share.ID); err != nil {
		o.logger.Warn("heartbeat update failed", logging.Error(err))
	}

	result, err := o.fetchers.For(payload.Platform).Fetch(ctx, share.URL)
	if err != nil {
		o.tracker.NoteFailure(payload.Platform)
		return o.classify(ctx, share, err)
	}
	o.tracker.NoteSuccess(payload.Platform)
	if result.Headers != nil {
		o.tracker.UpdateFromResponse(payload.Platform, result.Headers)
	}

	if err := o.controller.OnFetched(ctx, share, result); err != nil {
		return o.classify(ctx, share, err)
	}
	return nil
}

// HandleDownload pulls a share's media down for transcription. The media file
// lands under the data directory keyed by share so a retry overwrites rather
// than duplicates.
func (o *Orchestrator) HandleDownload(ctx context.Context, payload scheduler.JobPayload) error {
	ctx = services.WithShareID(ctx, payload.ShareID)

	share, err := o.store.GetByID(ctx, payload.ShareID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("share %s vanished: %w", payload.ShareID, asynq.SkipRetry)
		}
		return err
	}
	record, err := o.store.GetEnhancement(ctx, share.ID)
	if err != nil {
		return err
	}
	if record.Download != shares.PhaseProcessing {
		return nil
	}
	if share.MediaURL == "" {
		return o.classify(ctx, share, services.Wrap(services.ErrValidation, "orchestrator", "download",
			"share has no media URL to download", nil))
	}

	if err := o.store.UpdateHeartbeat(ctx, share.ID); err != nil {
		o.logger.Warn("heartbeat update failed", logging.Error(err))
	}
	if err := o.downloadMedia(ctx, share); err != nil {
		o.tracker.NoteFailure(payload.Platform)
		return o.classify(ctx, share, err)
	}
	o.tracker.NoteSuccess(payload.Platform)

	if err := o.controller.OnMediaDownloaded(ctx, share.ID); err != nil {
		return o.classify(ctx, share, err)
	}
	return nil
}

func (o *Orchestrator) downloadMedia(ctx context.Context, share *shares.Share) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, share.MediaURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "orchestrator", "download",
			"build media request", err)
	}
	if o.cfg.Fetch.UserAgent != "" {
		req.Header.Set("User-Agent", o.cfg.Fetch.UserAgent)
	}
	client := &http.Client{Timeout: time.Duration(o.cfg.Fetch.RequestTimeoutSeconds) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "download",
			"media request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &services.RateLimitError{
			Platform:   share.Platform,
			RetryAfter: ratelimit.RetryAfterFromHeaders(resp.Header, time.Now()),
		}
	}
	if resp.StatusCode >= 400 {
		marker := services.ErrTransient
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			marker = services.ErrNotFound
		}
		return services.Wrap(marker, "orchestrator", "download",
			fmt.Sprintf("media host returned %d", resp.StatusCode), nil)
	}

	target := filepath.Join(o.cfg.Paths.DataDir, "media", share.ID)
	if _, err := fileutil.WriteAtomic(target, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "download",
			"stage media file", err)
	}
	return nil
}

// classify maps a handler error onto the scheduler's retry decision. Terminal
// errors mark the share errored and stop retrying; rate limits feed the
// tracker and carry their wait; everything else retries with backoff up to
// the attempt ceiling.
func (o *Orchestrator) classify(ctx context.Context, share *shares.Share, err error) error {
	if err == nil {
		return nil
	}

	var release *scheduler.ReleaseError
	if errors.As(err, &release) {
		return err
	}

	if rle, ok := services.AsRateLimit(err); ok {
		o.tracker.NoteRateLimited(rle.Platform, rle.RetryAfter)
		o.logger.Info("platform rate limited",
			logging.String(logging.FieldShareID, share.ID),
			logging.String(logging.FieldPlatform, rle.Platform),
			logging.Duration("retry_after", rle.RetryAfter))
		return err
	}

	if !services.Retryable(err) {
		o.fail(ctx, share, "terminal", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	// The attempt ceiling counts persisted genuine failures only. Releases
	// and rate-limit requeues returned above consume asynq redeliveries but
	// never this budget.
	attempts, countErr := o.store.IncrementAttempts(ctx, share.ID)
	if countErr != nil {
		o.logger.Warn("attempt count update failed",
			logging.String(logging.FieldShareID, share.ID),
			logging.Error(countErr))
		return err
	}
	if attempts >= o.cfg.Scheduler.MaxAttempts {
		o.fail(ctx, share, "attempts_exhausted", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	o.logger.Warn("job attempt failed, will retry",
		logging.String(logging.FieldShareID, share.ID),
		logging.Int("attempt", attempts),
		logging.Error(err))
	return err
}

func (o *Orchestrator) fail(ctx context.Context, share *shares.Share, code string, cause error) {
	if err := o.store.SetError(ctx, share.ID, code, cause.Error()); err != nil {
		o.logger.Error("failed to record share error",
			logging.String(logging.FieldShareID, share.ID),
			logging.Error(err))
		return
	}
	o.logger.Error("share failed",
		logging.String(logging.FieldShareID, share.ID),
		logging.String("error_code", code),
		logging.Error(cause))
}
