package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// Client enqueues share jobs onto the weighted priority queues.
type Client struct {
	client *asynq.Client
	cfg    *config.Config
	logger *slog.Logger
}

// RedisOpt builds the asynq connection settings from configuration.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// NewClient constructs an enqueue-side client.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		client: asynq.NewClient(RedisOpt(cfg)),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}
}

// EnqueueFetch schedules the initial fetch job for a newly accepted share.
func (c *Client) EnqueueFetch(ctx context.Context, share *shares.Share) error {
	payload := JobPayload{
		ShareID:  share.ID,
		UserID:   share.UserID,
		URL:      share.URL,
		Platform: share.Platform,
		UserTier: share.UserTier,
		Tier:     share.Priority(),
	}
	return c.enqueue(ctx, TypeFetchShare, payload)
}

// EnqueueDownload schedules the media download job for a share whose
// enhancement strategy requires local media.
func (c *Client) EnqueueDownload(ctx context.Context, share *shares.Share) error {
	payload := JobPayload{
		ShareID:  share.ID,
		UserID:   share.UserID,
		URL:      share.MediaURL,
		Platform: share.Platform,
		UserTier: share.UserTier,
		Tier:     share.Priority(),
	}
	return c.enqueue(ctx, TypeDownloadMedia, payload)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload JobPayload) error {
	if err := payload.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrValidation, "scheduler", "enqueue",
			"encode job payload", err)
	}

	queue := QueueName(payload.Platform, payload.Tier)
	// MaxRetry is deliberately generous: releases consume asynq retries but
	// not the share's genuine-failure budget, which the handler enforces.
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, body),
		asynq.Queue(queue),
		asynq.MaxRetry(200),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "enqueue",
			"enqueue "+taskType+" on "+queue, err)
	}

	c.logger.Info("job enqueued",
		logging.String(logging.FieldShareID, payload.ShareID),
		logging.String(logging.FieldQueue, queue),
		logging.String("task_type", taskType),
		logging.String("task_id", info.ID))
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
