package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue"
	"github.com/geocoder89/chime/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventStore is the slice of the store the executor needs.
type EventStore interface {
	FindByID(ctx context.Context, id string) (event.Event, error)
	Update(ctx context.Context, e event.Event) error
	Create(ctx context.Context, e event.Event) error
}

// UserLookup resolves current user state; seeding the next occurrence
// needs the real date of birth, which the event rows do not carry (a
// leap-day birthday substituted to Mar 1 must return to Feb 29 in the
// next leap year).
type UserLookup interface {
	GetByID(ctx context.Context, id string) (user.Info, error)
}

// WebhookClient delivers one payload with its idempotency key.
type WebhookClient interface {
	Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error
}

type Config struct {
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	HealthAddr    string
}

// Worker consumes the work queue, delivers webhooks, writes terminal
// transitions and seeds the next occurrence. At-least-once redelivery is
// collapsed by the PROCESSING status check; the recipient's idempotency
// key dedup covers the rest.
type Worker struct {
	cfg     Config
	store   EventStore
	users   UserLookup
	q       queue.Queue
	hooks   WebhookClient
	sched   *schedule.Service
	metrics *observability.DeliveryMetrics
	prom    *observability.Prom
	log     *slog.Logger

	readyMu sync.RWMutex
	ready   bool

	PromRegistry *prometheus.Registry
}

func New(cfg Config, store EventStore, users UserLookup, q queue.Queue, hooks WebhookClient, sched *schedule.Service, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Worker{
		cfg:     cfg,
		store:   store,
		users:   users,
		q:       q,
		hooks:   hooks,
		sched:   sched,
		metrics: observability.NewDeliveryMetrics(),
		prom:    prom,
		log:     log,
		ready:   true,
	}
}

var tracer = otel.Tracer("chime-worker")

func (w *Worker) logMetricsLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			s := w.metrics.Snapshot()
			w.log.Info("worker.metrics",
				"received", s.Received,
				"completed", s.Completed,
				"failed", s.Failed,
				"skipped", s.Skipped,
				"duration_avg", s.AverageDuration.String(),
				"duration_max", s.MaxDuration.String(),
			)
		}
	}
}

func (w *Worker) Run(ctx context.Context) error {
	var healthDone chan struct{}

	if w.cfg.HealthAddr != "" {
		srv := &http.Server{Addr: w.cfg.HealthAddr, Handler: w.HealthHandler()}
		healthDone = make(chan struct{})

		go func() {
			w.log.Info("worker.health_server", "addr", w.cfg.HealthAddr, "worker_id", w.cfg.WorkerID)

			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.log.Error("worker.health_server_error", "err", err)
			}
			close(healthDone)
		}()

		// On shutdown: flip readiness, keep serving 503s briefly, then stop
		go func() {
			<-ctx.Done()

			w.readyMu.Lock()
			w.ready = false
			w.readyMu.Unlock()

			time.Sleep(5 * time.Second)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go w.logMetricsLoop(ctx, 30*time.Second)

	deliveries := make(chan *queue.Delivery)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			w.runConsumer(workerNum, deliveries)
		}(i + 1)
	}

receiveLoop:
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker.shutdown_signal")
			break receiveLoop
		default:
		}

		d, err := w.q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break receiveLoop
			}
			w.log.Error("worker.receive_error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if d == nil {
			continue
		}

		w.metrics.IncReceived()

		select {
		case deliveries <- d:
		case <-ctx.Done():
			break receiveLoop
		}
	}

	close(deliveries)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("worker.drained")
	case <-time.After(w.cfg.ShutdownGrace):
		w.log.Warn("worker.shutdown_grace_exceeded", "grace", w.cfg.ShutdownGrace.String())
	}

	if healthDone != nil {
		select {
		case <-healthDone:
		case <-time.After(7 * time.Second):
		}
	}

	return nil
}

func (w *Worker) runConsumer(workerNum int, deliveries <-chan *queue.Delivery) {
	for d := range deliveries {
		start := time.Now()

		// in-flight messages finish on a fresh context so shutdown does
		// not abort a webhook mid-delivery
		execCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

		execCtx, span := tracer.Start(execCtx, "delivery.run",
			trace.WithAttributes(
				attribute.String("event.id", d.Message.EventID),
				attribute.String("event.type", d.Message.EventType),
				attribute.Int("delivery.receive_count", d.ReceiveCount),
				attribute.String("worker.id", w.cfg.WorkerID),
				attribute.Int("worker.num", workerNum),
			),
		)

		if w.prom != nil {
			w.prom.DeliveriesInFlight.Inc()
		}

		result, err := w.ProcessDelivery(execCtx, d)

		dur := time.Since(start)
		w.metrics.ObserveDuration(dur)

		if w.prom != nil {
			w.prom.DeliveriesInFlight.Dec()
			w.prom.DeliveryResults.WithLabelValues(d.Message.EventType, result).Inc()
			w.prom.DeliveryDuration.WithLabelValues(d.Message.EventType, result).Observe(dur.Seconds())
		}

		span.SetAttributes(
			attribute.Int64("delivery.duration_ms", dur.Milliseconds()),
			attribute.String("delivery.result", result),
		)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			w.log.ErrorContext(execCtx, "worker.delivery_error",
				"worker_num", workerNum,
				"event_id", d.Message.EventID,
				"result", result,
				"duration_ms", dur.Milliseconds(),
				"err", err,
			)
		} else {
			span.SetStatus(codes.Ok, result)

			w.log.InfoContext(execCtx, "worker.delivery_done",
				"worker_num", workerNum,
				"event_id", d.Message.EventID,
				"result", result,
				"duration_ms", dur.Milliseconds(),
			)
		}

		span.End()
		cancel()
	}
}
