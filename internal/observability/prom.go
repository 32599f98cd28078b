package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Work queue
	QueueOpDuration *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge

	// Scheduler
	ClaimedTotal        prometheus.Counter
	EnqueueFailedTotal  prometheus.Counter
	RecoveryQueuedTotal prometheus.Counter

	// Worker / webhook
	DeliveryDuration   *prometheus.HistogramVec
	DeliveryResults    *prometheus.CounterVec
	DeliveriesInFlight prometheus.Gauge
	WebhookAttempts    *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chime",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chime",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chime",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chime",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		QueueOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chime",
				Subsystem: "queue",
				Name:      "op_duration_seconds",
				Help:      "Work-queue operation latency by op and status.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"op", "status"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chime",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Messages waiting on the main queue at last sample.",
			},
		),
		ClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "scheduler",
				Name:      "claimed_total",
				Help:      "Events moved PENDING -> PROCESSING by the claim loop.",
			},
		),
		EnqueueFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "scheduler",
				Name:      "enqueue_failed_total",
				Help:      "Claimed events whose queue enqueue failed (left for redrive).",
			},
		),
		RecoveryQueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "scheduler",
				Name:      "recovery_queued_total",
				Help:      "Missed events enqueued by the startup recovery scan.",
			},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chime",
				Subsystem: "worker",
				Name:      "delivery_duration_seconds",
				Help:      "End-to-end processing duration per queue message.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"event_type", "result"}, // result=completed|failed|skipped
		),
		DeliveryResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "worker",
				Name:      "delivery_results_total",
				Help:      "Delivery outcomes by event type and result.",
			},
			[]string{"event_type", "result"},
		),
		DeliveriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chime",
				Subsystem: "worker",
				Name:      "deliveries_in_flight",
				Help:      "Current number of executing deliveries (per process).",
			},
		),
		WebhookAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chime",
				Subsystem: "webhook",
				Name:      "attempts_total",
				Help:      "Webhook POST attempts by outcome (ok|transient|permanent|transport).",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.QueueOpDuration, p.QueueDepth,
		p.ClaimedTotal, p.EnqueueFailedTotal, p.RecoveryQueuedTotal,
		p.DeliveryDuration, p.DeliveryResults, p.DeliveriesInFlight,
		p.WebhookAttempts,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
