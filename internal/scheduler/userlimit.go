package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
)

// acquireScript atomically takes a user slot if one is free. The counter
// carries a TTL so a crashed worker cannot pin a user's slots forever.
var acquireScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
    redis.call("DECR", KEYS[1])
    return 0
end
return 1
`)

// releaseScript returns a slot without letting the counter go negative.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
    redis.call("DECR", KEYS[1])
end
return current
`)

const slotTTLSeconds = 3600

// UserLimiter caps how many jobs a single user may have in flight at once,
// shared across all worker processes through Redis.
type UserLimiter struct {
	client *redis.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewUserLimiter constructs a limiter over a shared Redis client.
func NewUserLimiter(client *redis.Client, cfg *config.Config, logger *slog.Logger) *UserLimiter {
	return &UserLimiter{
		client: client,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}
}

func slotKey(userID string) string {
	return "sharepipe:user_slots:" + userID
}

// Acquire takes an in-flight slot for the user. When the user is at their
// tier ceiling it returns a user-busy error; callers release the job back to
// its queue with the tier backoff.
func (l *UserLimiter) Acquire(ctx context.Context, userID string, tier shares.UserTier) error {
	limit := UserSlots(l.cfg, tier)
	ok, err := acquireScript.Run(ctx, l.client, []string{slotKey(userID)}, limit, slotTTLSeconds).Int()
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "acquire_slot",
			"user slot check for "+userID, err)
	}
	if ok != 1 {
		return services.Wrap(services.ErrUserBusy, "scheduler", "acquire_slot",
			"user at in-flight ceiling", nil)
	}
	return nil
}

// Release frees a previously acquired slot. Failures are logged rather than
// surfaced since the TTL bounds any leak.
func (l *UserLimiter) Release(ctx context.Context, userID string) {
	// Best effort with a short independent deadline, so releases still
	// happen while the job's own context is being torn down.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, l.client, []string{slotKey(userID)}).Err(); err != nil {
		l.logger.Warn("user slot release failed",
			logging.String(logging.FieldUserID, userID),
			logging.Error(err))
	}
}

// InFlight reports how many slots a user currently holds.
func (l *UserLimiter) InFlight(ctx context.Context, userID string) (int, error) {
	n, err := l.client.Get(ctx, slotKey(userID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "scheduler", "inflight",
			"read user slot count", err)
	}
	return n, nil
}
