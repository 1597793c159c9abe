package config

const (
	defaultDataDir                 = "~/.local/share/sharepipe"
	defaultLogDir                  = "~/.local/share/sharepipe/logs"
	defaultAPIBind                 = "127.0.0.1:7319"
	defaultRedisAddr               = "127.0.0.1:6379"
	defaultMaxAttempts             = 5
	defaultRetryBaseSeconds        = 2
	defaultRetryCapSeconds         = 300
	defaultHighConcurrency         = 3
	defaultNormalConcurrency       = 2
	defaultLowConcurrency          = 1
	defaultPremiumUserSlots        = 5
	defaultStandardUserSlots       = 3
	defaultFreeUserSlots           = 1
	defaultRateLimitBudget         = 60
	defaultRateLimitWindowSeconds  = 60
	defaultHighAllocation          = 0.5
	defaultNormalAllocation        = 0.35
	defaultLowAllocation           = 0.15
	defaultStreamPrefix            = "sharepipe:tasks"
	defaultConnectTimeoutSeconds   = 10
	defaultHeartbeatSeconds        = 60
	defaultReconnectMaxAttempts    = 10
	defaultBreakerFailureThreshold = 5
	defaultBreakerCooldownSeconds  = 30
	defaultMaxPhaseRetries         = 3
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultMusicTimeoutMinutes     = 2
	defaultShortTimeoutMinutes     = 5
	defaultStandardTimeoutMinutes  = 15
	defaultLongTimeoutMinutes      = 30
	defaultFetchTimeoutSeconds     = 30
	defaultFetchUserAgent          = "Sharepipe/0.1"
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "auto"
	defaultLogLevel                = "info"
)

func defaultPlatforms() []string {
	return []string{"youtube", "tiktok", "instagram", "article"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Scheduler: Scheduler{
			Platforms:         defaultPlatforms(),
			MaxAttempts:       defaultMaxAttempts,
			RetryBaseSeconds:  defaultRetryBaseSeconds,
			RetryCapSeconds:   defaultRetryCapSeconds,
			HighConcurrency:   defaultHighConcurrency,
			NormalConcurrency: defaultNormalConcurrency,
			LowConcurrency:    defaultLowConcurrency,
			PremiumUserSlots:  defaultPremiumUserSlots,
			StandardUserSlots: defaultStandardUserSlots,
			FreeUserSlots:     defaultFreeUserSlots,
		},
		RateLimit: RateLimit{
			DefaultLimit:         defaultRateLimitBudget,
			DefaultWindowSeconds: defaultRateLimitWindowSeconds,
			HighAllocation:       defaultHighAllocation,
			NormalAllocation:     defaultNormalAllocation,
			LowAllocation:        defaultLowAllocation,
		},
		Broker: Broker{
			StreamPrefix:            defaultStreamPrefix,
			ConnectTimeoutSeconds:   defaultConnectTimeoutSeconds,
			HeartbeatSeconds:        defaultHeartbeatSeconds,
			ReconnectMaxAttempts:    defaultReconnectMaxAttempts,
			BreakerFailureThreshold: defaultBreakerFailureThreshold,
			BreakerCooldownSeconds:  defaultBreakerCooldownSeconds,
		},
		Workflow: Workflow{
			MaxPhaseRetries:        defaultMaxPhaseRetries,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			MusicTimeoutMinutes:    defaultMusicTimeoutMinutes,
			ShortTimeoutMinutes:    defaultShortTimeoutMinutes,
			StandardTimeoutMinutes: defaultStandardTimeoutMinutes,
			LongTimeoutMinutes:     defaultLongTimeoutMinutes,
		},
		Fetch: Fetch{
			RequestTimeoutSeconds: defaultFetchTimeoutSeconds,
			UserAgent:             defaultFetchUserAgent,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
