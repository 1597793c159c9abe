package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// Task type identifiers registered on the serve mux.
const (
	TypeFetchShare    = "share:fetch"
	TypeDownloadMedia = "share:download"
)

// JobPayload is the envelope carried by every scheduler task. Platform and
// tier ride along so handlers can apply limits without a store round trip.
type JobPayload struct {
	ShareID  string              `json:"share_id"`
	UserID   string              `json:"user_id"`
	URL      string              `json:"url,omitempty"`
	Platform string              `json:"platform"`
	UserTier shares.UserTier     `json:"user_tier"`
	Tier     shares.PriorityTier `json:"tier"`
}

func (p JobPayload) validate() error {
	if p.ShareID == "" || p.UserID == "" || p.Platform == "" {
		return services.Wrap(services.ErrValidation, "scheduler", "enqueue",
			"job payload missing share, user, or platform", nil)
	}
	return nil
}

// DecodePayload unmarshals a task envelope, failing terminally on malformed
// payloads since retrying cannot fix them.
func DecodePayload(task *asynq.Task) (JobPayload, error) {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return JobPayload{}, fmt.Errorf("decode %s payload: %w", task.Type(), asynq.SkipRetry)
	}
	if payload.Tier == "" {
		payload.Tier = shares.PriorityForUserTier(payload.UserTier)
	}
	return payload, nil
}
