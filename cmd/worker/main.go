package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/chime/internal/config"
	"github.com/geocoder89/chime/internal/db"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue/redisqueue"
	"github.com/geocoder89/chime/internal/repo/postgres"
	"github.com/geocoder89/chime/internal/schedule"
	"github.com/geocoder89/chime/internal/webhook"
	"github.com/geocoder89/chime/internal/worker"
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

	shutdownTracer, err := observability.InitTracer(ctx, "chime-worker", cfg.OTLPEndpoint)
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
	usersRepo := postgres.NewUsersRepo(pool, prom)

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

	// the reaper redrives messages whose visibility timeout lapsed
	go q.RunReaper(ctx, cfg.ReaperInterval)

	hooks := webhook.NewClient(prom, log)
	sched := schedule.NewService(cfg.DeliveryTimeOverride, log)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		WorkerID:      workerID,
		Concurrency:   cfg.WorkerConcurrency,
		ShutdownGrace: 10 * time.Second,
		HealthAddr:    cfg.WorkerHealthAddr,
	}, eventsRepo, usersRepo, q, hooks, sched, log, prom)
	w.PromRegistry = reg

	log.Info("worker started",
		"worker_id", workerID,
		"concurrency", cfg.WorkerConcurrency,
		"queue", cfg.QueueName,
	)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = shutdownTracer(shutdownCtx)

	log.Info("worker shutdown complete")
}
