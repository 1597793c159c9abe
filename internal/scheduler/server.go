package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/shares"
)

// Server drains the priority queues and dispatches jobs to registered
// handlers. Tier concurrency ceilings are enforced here with non-blocking
// semaphores; a job arriving while its tier is saturated is released back to
// its queue instead of occupying a worker.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	tiers  map[shares.PriorityTier]chan struct{}
	logger *slog.Logger
}

// NewServer builds the worker server from configuration.
func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	log := logging.NewComponentLogger(logger, "scheduler")

	tiers := make(map[shares.PriorityTier]chan struct{}, 3)
	total := 0
	for _, tier := range shares.AllPriorityTiers() {
		n := TierConcurrency(cfg, tier)
		if n < 1 {
			n = 1
		}
		tiers[tier] = make(chan struct{}, n)
		total += n
	}

	base := time.Duration(cfg.Scheduler.RetryBaseSeconds) * time.Second
	cap := time.Duration(cfg.Scheduler.RetryCapSeconds) * time.Second
	server := asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency:    total,
		Queues:         Queues(cfg),
		StrictPriority: false,
		RetryDelayFunc: RetryDelay(base, cap),
		Logger:         &asynqLogger{logger: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("task attempt failed",
				logging.String("task_type", task.Type()),
				logging.Error(err))
		}),
	})

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
		tiers:  tiers,
		logger: log,
	}
}

// Handle registers a handler for a task type, wrapped with the tier
// concurrency gate.
func (s *Server) Handle(taskType string, handler func(ctx context.Context, payload JobPayload) error) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		payload, err := DecodePayload(task)
		if err != nil {
			return err
		}
		release, ok := s.acquireTier(payload.Tier)
		if !ok {
			s.logger.Debug("tier saturated, releasing job",
				logging.String(logging.FieldShareID, payload.ShareID),
				logging.String(logging.FieldTier, string(payload.Tier)))
			return Release("tier "+string(payload.Tier)+" at capacity", SlotBackoff(payload.Tier))
		}
		defer release()
		return handler(ctx, payload)
	})
}

// acquireTier takes a tier slot without blocking.
func (s *Server) acquireTier(tier shares.PriorityTier) (func(), bool) {
	sem, ok := s.tiers[tier]
	if !ok {
		sem = s.tiers[shares.PriorityLow]
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}

// Start begins draining queues. It does not block.
func (s *Server) Start() error {
	return s.server.Start(s.mux)
}

// Shutdown waits for in-flight jobs and stops the server.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

// asynqLogger adapts slog to asynq's internal logging interface.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.logger.Error(sprint(args...)) }

func sprint(args ...any) string {
	return fmt.Sprint(args...)
}
