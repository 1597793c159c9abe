package main

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sharepipe/internal/broker"
	"sharepipe/internal/config"
	"sharepipe/internal/daemon"
	"sharepipe/internal/fetch"
	"sharepipe/internal/notifications"
	"sharepipe/internal/orchestrator"
	"sharepipe/internal/ratelimit"
	"sharepipe/internal/scheduler"
	"sharepipe/internal/shares"
	"sharepipe/internal/workflow"
)

// buildDaemon wires every service the daemon runs. The shared Redis client
// here backs the user slot counters; the broker link and the scheduler each
// own their own connections.
func buildDaemon(cfg *config.Config, store *shares.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	conn := broker.NewConnection(cfg.Broker, cfg.Redis, logger)
	breaker := broker.NewBreaker(cfg.Broker.BreakerFailureThreshold,
		time.Duration(cfg.Broker.BreakerCooldownSeconds)*time.Second)
	publisher := broker.NewPublisher(conn, breaker, cfg.Broker.StreamPrefix, logger)

	client := scheduler.NewClient(cfg, logger)
	limiter := scheduler.NewUserLimiter(redisClient, cfg, logger)
	server := scheduler.NewServer(cfg, logger)
	inspector := scheduler.NewInspector(cfg)

	tracker := ratelimit.NewTracker(cfg, logger)
	fetchers := fetch.NewRegistry(cfg)
	controller := workflow.NewController(store, publisher, client, cfg, logger)
	orch := orchestrator.New(store, client, limiter, tracker, fetchers, controller, cfg, logger)
	orch.Register(server)

	notifier := notifications.NewService(cfg)

	return daemon.New(daemon.Options{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Connection: conn,
		Publisher:  publisher,
		Server:     server,
		Inspector:  inspector,
		Orch:       orch,
		Controller: controller,
		Notifier:   notifier,
	})
}
