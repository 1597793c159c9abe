package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sharepipe/internal/broker"
	"sharepipe/internal/config"
	"sharepipe/internal/fetch"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// TaskPublisher is the confirmed-delivery publish path for ML tasks.
type TaskPublisher interface {
	Publish(ctx context.Context, kind broker.TaskKind, shareID, correlationID string, payload map[string]any) error
}

// DownloadScheduler enqueues the media download job for a share.
type DownloadScheduler interface {
	EnqueueDownload(ctx context.Context, share *shares.Share) error
}

// Controller owns every workflow state and enhancement phase transition.
// It is the single writer of enhancement records.
type Controller struct {
	store     *shares.Store
	publisher TaskPublisher
	downloads DownloadScheduler
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewController wires the workflow controller.
func NewController(store *shares.Store, publisher TaskPublisher, downloads DownloadScheduler, cfg *config.Config, logger *slog.Logger) *Controller {
	return &Controller{
		store:     store,
		publisher: publisher,
		downloads: downloads,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		now:       time.Now,
	}
}

// OnFetched runs once per successful fetch: persist metadata, queue the
// fast-track embedding, classify, and start the selected strategy's first
// phase. Re-entry after a partial failure is safe; steps already recorded in
// the workflow state are skipped.
func (c *Controller) OnFetched(ctx context.Context, share *shares.Share, result *fetch.Result) error {
	ctx = services.WithShareID(ctx, share.ID)

	if share.WorkflowState == shares.StateNone {
		share.Title = result.Title
		share.Description = result.Description
		share.MediaURL = result.MediaURL
		share.HasCaptions = result.HasCaptions
		share.DurationSeconds = result.DurationSeconds
		share.ContentType = Classify(share.Platform, result)
		share.Status = shares.StatusProcessing
		share.WorkflowState = shares.StateFetched
		if err := c.store.Update(ctx, share); err != nil {
			return err
		}
		c.logger.Info("content classified",
			logging.String(logging.FieldShareID, share.ID),
			logging.String("content_type", string(share.ContentType)),
			logging.Int("duration_seconds", share.DurationSeconds))
	}

	return c.resumePrePhase(ctx, share)
}

// Resume re-drives a share persisted in a pre-phase workflow state. A fetch
// job redelivered after a transient publish or selection failure lands here:
// the metadata is already on the share, so only the unfinished tail of
// OnFetched runs.
func (c *Controller) Resume(ctx context.Context, share *shares.Share) error {
	ctx = services.WithShareID(ctx, share.ID)
	return c.resumePrePhase(ctx, share)
}

func (c *Controller) resumePrePhase(ctx context.Context, share *shares.Share) error {
	if share.WorkflowState == shares.StateFetched {
		if err := c.queueFastEmbedding(ctx, share); err != nil {
			return err
		}
	}

	if share.WorkflowState == shares.StateFastEmbeddingQueued {
		if err := c.selectStrategy(ctx, share); err != nil {
			return err
		}
	}
	return nil
}

// queueFastEmbedding publishes the metadata-only embedding so the share is
// searchable before deep enhancement finishes.
func (c *Controller) queueFastEmbedding(ctx context.Context, share *shares.Share) error {
	if _, err := c.store.EnsureEnhancement(ctx, share.ID); err != nil {
		return err
	}
	correlationID := uuid.NewString()
	payload := map[string]any{
		"title":       share.Title,
		"description": share.Description,
		"basic":       true,
	}
	if err := c.publisher.Publish(ctx, broker.TaskEmbedFast, share.ID, correlationID, payload); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, shares.StateFetched, shares.StateFastEmbeddingQueued); err != nil {
		return err
	}
	share.WorkflowState = shares.StateFastEmbeddingQueued
	return nil
}

// selectStrategy marks the phases the strategy never runs as skipped and
// kicks off the first real phase.
func (c *Controller) selectStrategy(ctx context.Context, share *shares.Share) error {
	record, err := c.store.GetEnhancement(ctx, share.ID)
	if err != nil {
		return err
	}
	strategy := StrategyFor(share.ContentType)

	for _, phase := range shares.AllPhases() {
		if strategy.Skips(phase) && record.PhaseStatusFor(phase) == shares.PhasePending {
			record.SetPhaseStatus(phase, shares.PhaseSkipped)
		}
	}
	// Captions-first strategies try platform captions before downloading.
	if strategy.CaptionsFirst && share.HasCaptions && record.Download == shares.PhasePending {
		record.Download = shares.PhaseSkipped
	}

	if share.ContentType == shares.ContentMusic {
		return c.completeMusic(ctx, share, record)
	}

	if err := c.store.UpdateEnhancement(ctx, record); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, shares.StateFastEmbeddingQueued, shares.StateEnhancementSelected); err != nil {
		return err
	}
	share.WorkflowState = shares.StateEnhancementSelected
	return c.startNextPhase(ctx, share, record, strategy)
}

// completeMusic finishes a music-only share immediately: nothing to download
// or transcribe, the summary comes from metadata, and the fast-track
// embedding is the only one.
func (c *Controller) completeMusic(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord) error {
	record.Summary = shares.PhaseCompleted
	record.ActivePhase = ""
	record.ActiveCorrelationID = ""
	if err := c.store.UpdateEnhancement(ctx, record); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, shares.StateFastEmbeddingQueued, shares.StateDone); err != nil {
		return err
	}
	share.WorkflowState = shares.StateDone
	share.Status = shares.StatusDone
	if err := c.store.Update(ctx, share); err != nil {
		return err
	}
	c.logger.Info("music share completed from metadata",
		logging.String(logging.FieldShareID, share.ID))
	return nil
}

// stateForPhase maps a running phase onto the share's workflow state.
func stateForPhase(phase shares.Phase) shares.WorkflowState {
	switch phase {
	case shares.PhaseDownload:
		return shares.StateDownloading
	case shares.PhaseTranscription:
		return shares.StateTranscribing
	case shares.PhaseSummary:
		return shares.StateSummarizing
	default:
		return shares.StateEmbedding
	}
}

// startNextPhase finds the first non-terminal phase in strategy order and
// drives it to processing, persisting before the external call goes out.
func (c *Controller) startNextPhase(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord, strategy Strategy) error {
	for _, phase := range strategy.Phases() {
		status := record.PhaseStatusFor(phase)
		if status.IsTerminal() {
			continue
		}
		return c.beginPhase(ctx, share, record, phase)
	}
	return c.finish(ctx, share, record)
}

// beginPhase persists the processing checkpoint and dispatches the phase's
// external work.
func (c *Controller) beginPhase(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord, phase shares.Phase) error {
	ctx = services.WithPhase(ctx, string(phase))

	from := record.PhaseStatusFor(phase)
	if from != shares.PhaseProcessing {
		if !shares.CanTransition(from, shares.PhaseProcessing) {
			return services.Wrap(services.ErrConflict, "workflow", "begin_phase",
				"phase "+string(phase)+" cannot start from "+string(from), nil)
		}
		record.SetPhaseStatus(phase, shares.PhaseProcessing)
	}

	correlationID := uuid.NewString()
	record.ActivePhase = phase
	record.ActiveCorrelationID = correlationID
	if err := c.store.UpdateEnhancement(ctx, record); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, share.WorkflowState, stateForPhase(phase)); err != nil {
		return err
	}
	share.WorkflowState = stateForPhase(phase)

	c.logger.Info("phase started",
		logging.String(logging.FieldShareID, share.ID),
		logging.String(logging.FieldPhase, string(phase)),
		logging.String(logging.FieldCorrelationID, correlationID))

	if phase == shares.PhaseDownload {
		return c.downloads.EnqueueDownload(ctx, share)
	}
	return c.publisher.Publish(ctx, kindForPhase(phase), share.ID, correlationID, c.phasePayload(share, record, phase))
}

func (c *Controller) phasePayload(share *shares.Share, record *shares.EnhancementRecord, phase shares.Phase) map[string]any {
	payload := map[string]any{
		"content_type": string(share.ContentType),
	}
	switch phase {
	case shares.PhaseTranscription:
		payload["media_url"] = share.MediaURL
		if record.Download == shares.PhaseSkipped && share.HasCaptions {
			payload["source"] = "captions"
			payload["url"] = share.URL
		} else {
			payload["source"] = "media"
		}
	case shares.PhaseSummary:
		payload["title"] = share.Title
		payload["description"] = share.Description
	case shares.PhaseEmbedding:
		payload["enhanced"] = true
	}
	return payload
}

// OnMediaDownloaded advances a share past its download phase.
func (c *Controller) OnMediaDownloaded(ctx context.Context, shareID string) error {
	share, err := c.store.GetByID(ctx, shareID)
	if err != nil {
		return err
	}
	record, err := c.store.GetEnhancement(ctx, shareID)
	if err != nil {
		return err
	}
	if record.Download != shares.PhaseProcessing {
		c.logger.Warn("download completion for idle phase ignored",
			logging.String(logging.FieldShareID, shareID),
			logging.String("download_status", string(record.Download)))
		return nil
	}
	record.Download = shares.PhaseCompleted
	return c.startNextPhase(ctx, share, record, StrategyFor(share.ContentType))
}

// HandleResult applies an ML result callback to the share it correlates
// with. Stale or unknown correlations are dropped, not errors: at-least-once
// delivery means duplicates will arrive.
func (c *Controller) HandleResult(ctx context.Context, result TaskResult) error {
	ctx = services.WithShareID(ctx, result.ShareID)
	share, err := c.store.GetByID(ctx, result.ShareID)
	if err != nil {
		return err
	}
	record, err := c.store.GetEnhancement(ctx, result.ShareID)
	if err != nil {
		return err
	}

	if result.Kind == broker.TaskEmbedFast {
		return c.applyFastEmbedding(ctx, record, result)
	}

	phase, ok := PhaseForKind(result.Kind)
	if !ok {
		c.logger.Warn("result with unknown task kind dropped",
			logging.String(logging.FieldShareID, result.ShareID),
			logging.String("kind", string(result.Kind)))
		return nil
	}
	if record.ActivePhase != phase || record.ActiveCorrelationID != result.CorrelationID {
		c.logger.Warn("stale result dropped",
			logging.String(logging.FieldShareID, result.ShareID),
			logging.String(logging.FieldPhase, string(phase)),
			logging.String(logging.FieldCorrelationID, result.CorrelationID))
		return nil
	}

	if !result.Succeeded {
		return c.failPhase(ctx, share, record, phase, result.ErrorCode, result.ErrorMessage)
	}
	return c.completePhase(ctx, share, record, phase, result)
}

func (c *Controller) applyFastEmbedding(ctx context.Context, record *shares.EnhancementRecord, result TaskResult) error {
	if record.FastEmbeddedAt != nil {
		return nil
	}
	now := c.now().UTC()
	record.FastEmbeddedAt = &now
	record.EmbeddingsGenerated += max(result.EmbeddingsGenerated, 1)
	return c.store.UpdateEnhancement(ctx, record)
}

func (c *Controller) completePhase(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord, phase shares.Phase, result TaskResult) error {
	record.SetPhaseStatus(phase, shares.PhaseCompleted)
	record.LastError = ""
	record.ChaptersGenerated += result.ChaptersGenerated
	if phase == shares.PhaseEmbedding {
		now := c.now().UTC()
		record.EnhancedEmbeddedAt = &now
		record.EmbeddingsGenerated += max(result.EmbeddingsGenerated, 1)
	}

	c.logger.Info("phase completed",
		logging.String(logging.FieldShareID, share.ID),
		logging.String(logging.FieldPhase, string(phase)))
	return c.startNextPhase(ctx, share, record, StrategyFor(share.ContentType))
}

// failPhase retries a failed phase while budget remains, falls back from
// captions to download when the captions were unusable, and otherwise marks
// the phase failed and the share errored. Completed sibling phases are left
// intact.
func (c *Controller) failPhase(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord, phase shares.Phase, code, message string) error {
	record.LastError = message
	if record.LastError == "" {
		record.LastError = code
	}

	if phase == shares.PhaseTranscription && code == ErrCodeCaptionsUnusable && record.Download == shares.PhaseSkipped {
		c.logger.Info("captions unusable, falling back to download",
			logging.String(logging.FieldShareID, share.ID))
		record.Download = shares.PhasePending
		record.Transcription = shares.PhasePending
		return c.startNextPhase(ctx, share, record, StrategyFor(share.ContentType))
	}

	if record.RetryCount < c.cfg.Workflow.MaxPhaseRetries {
		record.RetryCount++
		c.logger.Warn("phase failed, retrying",
			logging.String(logging.FieldShareID, share.ID),
			logging.String(logging.FieldPhase, string(phase)),
			logging.Int("retry", record.RetryCount),
			logging.String("error_code", code))
		return c.beginPhase(ctx, share, record, phase)
	}

	record.SetPhaseStatus(phase, shares.PhaseFailed)
	record.ActivePhase = ""
	record.ActiveCorrelationID = ""
	if err := c.store.UpdateEnhancement(ctx, record); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, share.WorkflowState, shares.FailedState(phase)); err != nil {
		return err
	}
	share.WorkflowState = shares.FailedState(phase)
	if code == "" {
		code = "phase_failed"
	}
	if err := c.store.SetError(ctx, share.ID, code, message); err != nil {
		return err
	}
	c.logger.Error("phase retries exhausted",
		logging.String(logging.FieldShareID, share.ID),
		logging.String(logging.FieldPhase, string(phase)),
		logging.Int("retries", record.RetryCount))
	return nil
}

// finish runs when every phase in the strategy is terminal.
func (c *Controller) finish(ctx context.Context, share *shares.Share, record *shares.EnhancementRecord) error {
	record.ActivePhase = ""
	record.ActiveCorrelationID = ""
	if err := c.store.UpdateEnhancement(ctx, record); err != nil {
		return err
	}
	if err := c.store.TransitionWorkflow(ctx, share.ID, share.WorkflowState, shares.StateDone); err != nil {
		return err
	}
	share.WorkflowState = shares.StateDone
	share.Status = shares.StatusDone
	if err := c.store.Update(ctx, share); err != nil {
		return err
	}
	c.logger.Info("enhancement completed",
		logging.String(logging.FieldShareID, share.ID),
		logging.Int("embeddings", record.EmbeddingsGenerated),
		logging.Int("retries", record.RetryCount))
	return nil
}

// RetryFailedPhase re-drives a share that settled in a failed_<phase> state.
// The failed phase gets a fresh retry budget; completed siblings stay as
// they are.
func (c *Controller) RetryFailedPhase(ctx context.Context, share *shares.Share) error {
	ctx = services.WithShareID(ctx, share.ID)
	record, err := c.store.GetEnhancement(ctx, share.ID)
	if err != nil {
		return err
	}

	var failed shares.Phase
	for _, phase := range shares.AllPhases() {
		if record.PhaseStatusFor(phase) == shares.PhaseFailed {
			failed = phase
			break
		}
	}
	if failed == "" {
		return services.Wrap(services.ErrConflict, "workflow", "retry",
			"share has no failed phase to retry", nil)
	}

	if err := c.store.UpdateStatusIf(ctx, share.ID, shares.StatusProcessing,
		shares.StatusPending, shares.StatusError); err != nil {
		return err
	}
	share.Status = shares.StatusProcessing
	record.RetryCount = 0
	record.LastError = ""

	c.logger.Info("failed phase retried",
		logging.String(logging.FieldShareID, share.ID),
		logging.String(logging.FieldPhase, string(failed)))
	return c.beginPhase(ctx, share, record, failed)
}

// SweepTimeouts fails phases that outlived their content-type budget. An
// expired phase goes through the normal failure path, so retry budget and
// terminal handling apply.
func (c *Controller) SweepTimeouts(ctx context.Context) (int, error) {
	active, err := c.store.ActiveEnhancements(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	now := c.now()
	for _, entry := range active {
		if entry.Record.ActivePhase == "" {
			continue
		}
		budget := PhaseTimeout(c.cfg, entry.ContentType)
		if now.Sub(entry.Record.UpdatedAt) < budget {
			continue
		}
		share, err := c.store.GetByID(ctx, entry.Record.ShareID)
		if err != nil {
			c.logger.Warn("timeout sweep could not load share",
				logging.String(logging.FieldShareID, entry.Record.ShareID),
				logging.Error(err))
			continue
		}
		phase := entry.Record.ActivePhase
		c.logger.Warn("phase timed out",
			logging.String(logging.FieldShareID, share.ID),
			logging.String(logging.FieldPhase, string(phase)),
			logging.Duration("budget", budget))
		if err := c.failPhase(ctx, share, entry.Record, phase, "phase_timeout",
			"phase exceeded its "+budget.String()+" budget"); err != nil {
			c.logger.Warn("timeout sweep failed to apply",
				logging.String(logging.FieldShareID, share.ID),
				logging.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
