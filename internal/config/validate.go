package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxAttempts < 1 {
		return errors.New("scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.RetryBaseSeconds < 1 {
		return errors.New("scheduler.retry_base_seconds must be at least 1")
	}
	if c.Scheduler.RetryCapSeconds < c.Scheduler.RetryBaseSeconds {
		return errors.New("scheduler.retry_cap_seconds must be >= retry_base_seconds")
	}
	for name, value := range map[string]int{
		"scheduler.high_concurrency":    c.Scheduler.HighConcurrency,
		"scheduler.normal_concurrency":  c.Scheduler.NormalConcurrency,
		"scheduler.low_concurrency":     c.Scheduler.LowConcurrency,
		"scheduler.premium_user_slots":  c.Scheduler.PremiumUserSlots,
		"scheduler.standard_user_slots": c.Scheduler.StandardUserSlots,
		"scheduler.free_user_slots":     c.Scheduler.FreeUserSlots,
	} {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.DefaultLimit < 1 {
		return errors.New("rate_limit.default_limit must be at least 1")
	}
	if c.RateLimit.DefaultWindowSeconds < 1 {
		return errors.New("rate_limit.default_window_seconds must be at least 1")
	}
	total := c.RateLimit.HighAllocation + c.RateLimit.NormalAllocation + c.RateLimit.LowAllocation
	if math.Abs(total-1.0) > 0.001 {
		return fmt.Errorf("rate_limit tier allocations must sum to 1.0, got %.3f", total)
	}
	for name, value := range map[string]float64{
		"rate_limit.high_allocation":   c.RateLimit.HighAllocation,
		"rate_limit.normal_allocation": c.RateLimit.NormalAllocation,
		"rate_limit.low_allocation":    c.RateLimit.LowAllocation,
	} {
		if value <= 0 || value >= 1 {
			return fmt.Errorf("%s must be between 0 and 1 exclusive", name)
		}
	}
	return nil
}

func (c *Config) validateBroker() error {
	if c.Broker.ConnectTimeoutSeconds < 1 {
		return errors.New("broker.connect_timeout_seconds must be at least 1")
	}
	if c.Broker.HeartbeatSeconds < 1 {
		return errors.New("broker.heartbeat_seconds must be at least 1")
	}
	if c.Broker.ReconnectMaxAttempts < 1 {
		return errors.New("broker.reconnect_max_attempts must be at least 1")
	}
	if c.Broker.BreakerFailureThreshold < 1 {
		return errors.New("broker.breaker_failure_threshold must be at least 1")
	}
	if c.Broker.BreakerCooldownSeconds < 1 {
		return errors.New("broker.breaker_cooldown_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxPhaseRetries < 0 {
		return errors.New("workflow.max_phase_retries must not be negative")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		return errors.New("workflow.heartbeat_interval must be at least 1")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed heartbeat_interval")
	}
	for name, value := range map[string]int{
		"workflow.music_timeout_minutes":    c.Workflow.MusicTimeoutMinutes,
		"workflow.short_timeout_minutes":    c.Workflow.ShortTimeoutMinutes,
		"workflow.standard_timeout_minutes": c.Workflow.StandardTimeoutMinutes,
		"workflow.long_timeout_minutes":     c.Workflow.LongTimeoutMinutes,
	} {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	return nil
}
