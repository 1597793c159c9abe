package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
)

// InterventionFunc is invoked once when the reconnect loop gives up.
type InterventionFunc func(lastErr error)

// Connection owns the single logical broker link. It connects lazily, keeps
// the link alive with periodic heartbeats, and reconnects with exponential
// backoff after failures. All publishes flow through Client.
type Connection struct {
	cfg    config.Broker
	redis  config.Redis
	logger *slog.Logger

	mu             sync.Mutex
	state          ConnectionState
	client         *redis.Client
	attempt        int
	connectedSince time.Time
	lastErr        error
	wake           chan struct{}

	onIntervention InterventionFunc
	newClient      func(config.Redis) *redis.Client
}

// NewConnection constructs a disconnected broker link. Run must be called
// before publishes can succeed.
func NewConnection(cfg config.Broker, rc config.Redis, logger *slog.Logger) *Connection {
	return &Connection{
		cfg:       cfg,
		redis:     rc,
		logger:    logging.NewComponentLogger(logger, "broker"),
		state:     StateDisconnected,
		wake:      make(chan struct{}, 1),
		newClient: defaultNewClient,
	}
}

func defaultNewClient(rc config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

// OnIntervention registers a callback fired when the reconnect budget is
// exhausted. Must be called before Run.
func (c *Connection) OnIntervention(fn InterventionFunc) {
	c.onIntervention = fn
}

// Run drives the connection lifecycle until ctx is cancelled or Close is
// called. It blocks; callers run it in its own goroutine.
func (c *Connection) Run(ctx context.Context) error {
	heartbeat := time.Duration(c.cfg.HeartbeatSeconds) * time.Second
	for {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		switch state {
		case StateClosing, StateClosed:
			c.teardown()
			return nil
		case StateNeedsIntervention:
			select {
			case <-ctx.Done():
				c.teardown()
				return ctx.Err()
			case <-c.wake:
			}
		case StateConnected:
			select {
			case <-ctx.Done():
				c.teardown()
				return ctx.Err()
			case <-c.wake:
			case <-time.After(heartbeat):
				c.heartbeat(ctx)
			}
		default:
			if err := c.connect(ctx); err != nil {
				if ctx.Err() != nil {
					c.teardown()
					return ctx.Err()
				}
				if !c.backoff(ctx) {
					c.teardown()
					return ctx.Err()
				}
			}
		}
	}
}

// connect performs a single connect attempt with the configured timeout.
func (c *Connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	client := c.newClient(c.redis)
	timeout := time.Duration(c.cfg.ConnectTimeoutSeconds) * time.Second
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err := client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		_ = client.Close()
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("broker connect attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(err))
		return err
	}

	c.mu.Lock()
	old := c.client
	c.client = client
	c.state = StateConnected
	c.attempt = 0
	c.connectedSince = time.Now()
	c.lastErr = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.logger.Info("broker connected",
		logging.String("addr", c.redis.Addr),
		logging.Int("attempt", attempt))
	return nil
}

// backoff sleeps before the next connect attempt. It returns false when the
// context was cancelled. Exhausting the attempt budget parks the connection
// in needs_intervention rather than returning.
func (c *Connection) backoff(ctx context.Context) bool {
	c.mu.Lock()
	attempt := c.attempt
	lastErr := c.lastErr
	if c.cfg.ReconnectMaxAttempts > 0 && attempt >= c.cfg.ReconnectMaxAttempts {
		c.state = StateNeedsIntervention
		c.mu.Unlock()
		c.logger.Error("broker reconnect budget exhausted, manual intervention required",
			logging.Int("attempts", attempt),
			logging.Error(lastErr))
		if c.onIntervention != nil {
			c.onIntervention(lastErr)
		}
		return true
	}
	c.mu.Unlock()

	delay := ReconnectDelay(attempt)
	c.logger.Info("broker reconnecting",
		logging.Int("attempt", attempt),
		logging.Duration("delay", delay))
	select {
	case <-ctx.Done():
		return false
	case <-c.wake:
		return true
	case <-time.After(delay):
		return true
	}
}

// heartbeat verifies liveness; a failed ping drops the link and triggers the
// reconnect loop.
func (c *Connection) heartbeat(ctx context.Context) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}
	timeout := time.Duration(c.cfg.ConnectTimeoutSeconds) * time.Second
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err := client.Ping(pingCtx).Err()
	cancel()
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("broker heartbeat failed", logging.Error(err))
		c.MarkDisconnected(err)
	}
}

// Client returns the live client, or a broker-unavailable error when the
// link is not connected.
func (c *Connection) Client() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.client == nil {
		return nil, services.Wrap(services.ErrBrokerUnavailable, "broker", "client",
			"link is "+string(c.state), c.lastErr)
	}
	return c.client, nil
}

// MarkDisconnected drops the link after a publish or heartbeat observed a
// connection-level failure, waking the reconnect loop.
func (c *Connection) MarkDisconnected(cause error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.lastErr = cause
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	c.logger.Warn("broker link lost", logging.Error(cause))
	c.signal()
}

// Reset clears a needs_intervention latch and resumes reconnecting. Exposed
// for the operator retry surface.
func (c *Connection) Reset() {
	c.mu.Lock()
	if c.state == StateNeedsIntervention {
		c.state = StateDisconnected
		c.attempt = 0
	}
	c.mu.Unlock()
	c.signal()
}

// Close shuts the link down. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()
	c.signal()
}

func (c *Connection) teardown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.state = StateClosed
	c.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}

func (c *Connection) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Status reports the link state for the observability surface.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{State: c.state}
	if c.state == StateConnected {
		status.ConnectedSince = c.connectedSince
	} else {
		status.ReconnectAttempt = c.attempt
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}
