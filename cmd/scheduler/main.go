package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/chime/internal/config"
	"github.com/geocoder89/chime/internal/db"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue/redisqueue"
	"github.com/geocoder89/chime/internal/repo/postgres"
	"github.com/geocoder89/chime/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "chime-scheduler", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventsRepo := postgres.NewEventsRepo(pool, prom)

	q := redisqueue.New(redisqueue.Config{
		Addr:              cfg.RedisAddr,
		Password:          cfg.RedisPassword,
		DB:                cfg.RedisDB,
		QueueName:         cfg.QueueName,
		DeadLetterName:    cfg.DeadLetterQueueName,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxReceives:       cfg.QueueMaxReceives,
	}, prom, log)
	defer q.Close()

	if err := q.Ping(ctx); err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	// startup recovery runs before the first tick; it only reads and
	// enqueues, so a crash loop cannot wedge events in PROCESSING
	scheduler.NewRecovery(eventsRepo, q, cfg.RecoveryBatchLimit, log, prom).Run(ctx)

	s := scheduler.New(scheduler.Config{
		Tick:       cfg.SchedulerTick,
		BatchLimit: cfg.SchedulerBatchLimit,
	}, eventsRepo, q, log, prom)

	log.Info("scheduler started",
		"tick", cfg.SchedulerTick.String(),
		"batch_limit", cfg.SchedulerBatchLimit,
	)

	if err := s.Run(ctx); err != nil {
		log.Error("scheduler stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = shutdownTracer(shutdownCtx)

	log.Info("scheduler shutdown complete")
}
