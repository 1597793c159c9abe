package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"sharepipe/internal/broker"
	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/notifications"
	"sharepipe/internal/orchestrator"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/shares"
	"sharepipe/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *shares.Store
	conn       *broker.Connection
	publisher  *broker.Publisher
	server     *scheduler.Server
	inspector  *scheduler.Inspector
	orch       *orchestrator.Orchestrator
	controller *workflow.Controller
	notifier   notifications.Service

	lockPath string
	lock     *flock.Flock
	cron     *cron.Cron
	api      *apiServer

	running    atomic.Bool
	cancel     context.CancelFunc
	brokerDone chan struct{}
}

// Options carries the daemon's constructed dependencies.
type Options struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *shares.Store
	Connection *broker.Connection
	Publisher  *broker.Publisher
	Server     *scheduler.Server
	Inspector  *scheduler.Inspector
	Orch       *orchestrator.Orchestrator
	Controller *workflow.Controller
	Notifier   notifications.Service
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Logger == nil || opts.Server == nil {
		return nil, errors.New("daemon requires config, store, logger, and scheduler server")
	}

	lockPath := filepath.Join(opts.Config.Paths.LogDir, "sharepiped.lock")
	return &Daemon{
		cfg:        opts.Config,
		logger:     logging.NewComponentLogger(opts.Logger, "daemon"),
		store:      opts.Store,
		conn:       opts.Connection,
		publisher:  opts.Publisher,
		server:     opts.Server,
		inspector:  opts.Inspector,
		orch:       opts.Orch,
		controller: opts.Controller,
		notifier:   opts.Notifier,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches every background service.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sharepipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.conn.OnIntervention(func(lastErr error) {
		if d.notifier != nil {
			notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer notifyCancel()
			if err := d.notifier.NotifyBrokerNeedsIntervention(notifyCtx, lastErr); err != nil {
				d.logger.Warn("intervention alert failed", logging.Error(err))
			}
		}
	})
	d.brokerDone = make(chan struct{})
	go func() {
		defer close(d.brokerDone)
		if err := d.conn.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("broker loop exited", logging.Error(err))
		}
	}()

	if err := d.server.Start(); err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	if err := d.startMaintenance(runCtx); err != nil {
		d.server.Shutdown()
		d.releaseLock()
		cancel()
		return err
	}

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.stopMaintenance()
		d.server.Shutdown()
		d.releaseLock()
		cancel()
		return err
	}
	d.api = api
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.stopMaintenance()
			d.server.Shutdown()
			d.releaseLock()
			cancel()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("sharepipe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// startMaintenance schedules the stale-share reclaim and phase timeout
// sweeps.
func (d *Daemon) startMaintenance(ctx context.Context) error {
	d.cron = cron.New()

	heartbeatTimeout := time.Duration(d.cfg.Workflow.HeartbeatTimeout) * time.Second
	if _, err := d.cron.AddFunc("@every 1m", func() {
		cutoff := time.Now().Add(-heartbeatTimeout)
		reclaimed, err := d.store.ReclaimStaleInFlight(ctx, cutoff)
		if err != nil {
			d.logger.Warn("stale share reclaim failed", logging.Error(err))
			return
		}
		if reclaimed > 0 {
			d.logger.Info("stale shares reclaimed", logging.Int64("count", reclaimed))
		}
	}); err != nil {
		return fmt.Errorf("schedule reclaim: %w", err)
	}

	if _, err := d.cron.AddFunc("@every 1m", func() {
		expired, err := d.controller.SweepTimeouts(ctx)
		if err != nil {
			d.logger.Warn("timeout sweep failed", logging.Error(err))
			return
		}
		if expired > 0 {
			d.logger.Info("phase timeouts applied", logging.Int("count", expired))
		}
	}); err != nil {
		return fmt.Errorf("schedule timeout sweep: %w", err)
	}

	d.cron.Start()
	return nil
}

func (d *Daemon) stopMaintenance() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
		d.cron = nil
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	d.stopMaintenance()
	d.server.Shutdown()
	d.conn.Close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.brokerDone != nil {
		select {
		case <-d.brokerDone:
		case <-time.After(5 * time.Second):
			d.logger.Warn("broker loop did not stop in time")
		}
	}
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("sharepipe daemon stopped")
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.inspector != nil {
		_ = d.inspector.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status is the daemon's observability snapshot.
type Status struct {
	Running      bool                   `json:"running"`
	Broker       broker.Status          `json:"broker"`
	Shares       shares.HealthSummary   `json:"shares"`
	RateLimits   []ratelimit.Snapshot   `json:"rate_limits"`
	Queues       []scheduler.QueueDepth `json:"queues"`
	ShareDBPath  string                 `json:"share_db_path"`
	LockFilePath string                 `json:"lock_file_path"`
}

// Status reports runtime information for the API surface.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		ShareDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.conn != nil {
		status.Broker = d.conn.Status()
		if d.publisher != nil {
			status.Broker.Breaker = d.publisher.Breaker().Status()
		}
	}
	if health, err := d.store.Health(ctx); err == nil {
		status.Shares = health
	}
	if d.orch != nil {
		status.RateLimits = d.orch.Tracker().Headroom()
	}
	if d.inspector != nil {
		if depths, err := d.inspector.Depths(); err == nil {
			status.Queues = depths
		}
	}
	return status
}
