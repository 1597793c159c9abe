package scheduler

import (
	"strings"
	"time"

	"sharepipe/internal/config"
	"sharepipe/internal/shares"
)

// tierWeights fixes the weighted-fairness ratio between priority tiers.
// Out of every six dequeues, three come from high queues, two from normal,
// one from low.
var tierWeights = map[shares.PriorityTier]int{
	shares.PriorityHigh:   3,
	shares.PriorityNormal: 2,
	shares.PriorityLow:    1,
}

// QueueName returns the queue a job for the given platform and tier lands on.
func QueueName(platform string, tier shares.PriorityTier) string {
	return platform + "." + string(tier)
}

// TierOf extracts the priority tier from a queue name, defaulting to low for
// anything unrecognized.
func TierOf(queue string) shares.PriorityTier {
	idx := strings.LastIndex(queue, ".")
	if idx < 0 {
		return shares.PriorityLow
	}
	switch shares.PriorityTier(queue[idx+1:]) {
	case shares.PriorityHigh:
		return shares.PriorityHigh
	case shares.PriorityNormal:
		return shares.PriorityNormal
	default:
		return shares.PriorityLow
	}
}

// Queues builds the queue-to-weight map for every configured platform and
// tier. Weight follows the tier, not the platform, so fairness holds across
// platforms too.
func Queues(cfg *config.Config) map[string]int {
	tiers := shares.AllPriorityTiers()
	queues := make(map[string]int, len(cfg.Scheduler.Platforms)*len(tiers))
	for _, platform := range cfg.Scheduler.Platforms {
		for _, tier := range tiers {
			queues[QueueName(platform, tier)] = tierWeights[tier]
		}
	}
	return queues
}

// TierConcurrency returns the maximum simultaneously running jobs for a tier.
func TierConcurrency(cfg *config.Config, tier shares.PriorityTier) int {
	switch tier {
	case shares.PriorityHigh:
		return cfg.Scheduler.HighConcurrency
	case shares.PriorityNormal:
		return cfg.Scheduler.NormalConcurrency
	default:
		return cfg.Scheduler.LowConcurrency
	}
}

// UserSlots returns the per-user in-flight ceiling for a user tier.
func UserSlots(cfg *config.Config, tier shares.UserTier) int {
	switch tier {
	case shares.TierPremium:
		return cfg.Scheduler.PremiumUserSlots
	case shares.TierStandard:
		return cfg.Scheduler.StandardUserSlots
	default:
		return cfg.Scheduler.FreeUserSlots
	}
}

// SlotBackoff is the release delay when a user is at their in-flight ceiling.
// Cheaper tiers wait longer before the next attempt.
func SlotBackoff(tier shares.PriorityTier) time.Duration {
	switch tier {
	case shares.PriorityHigh:
		return 2500 * time.Millisecond
	case shares.PriorityNormal:
		return 5 * time.Second
	default:
		return 10 * time.Second
	}
}
