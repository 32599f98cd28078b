package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue"
)

// EventStore is the slice of the store the claim loop needs.
type EventStore interface {
	ClaimReadyEvents(ctx context.Context, limit int) ([]event.Event, error)
}

type Config struct {
	Tick       time.Duration
	BatchLimit int
}

// Scheduler claims ready events once per tick and hands each one to the
// work queue. Several instances may run at once; exclusivity comes from
// the store's claim semantics, not from anything in here.
type Scheduler struct {
	cfg   Config
	store EventStore
	q     queue.Queue
	log   *slog.Logger
	prom  *observability.Prom
}

func New(cfg Config, store EventStore, q queue.Queue, log *slog.Logger, prom *observability.Prom) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}

	return &Scheduler{cfg: cfg, store: store, q: q, log: log, prom: prom}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	tick := 0

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler.shutdown")
			return nil

		case <-ticker.C:
			tick++
			s.RunOnce(ctx, tick)
		}
	}
}

// RunOnce performs a single claim-and-enqueue pass. Errors never escape:
// the loop must survive store and queue outages, the next tick retries.
func (s *Scheduler) RunOnce(ctx context.Context, tick int) {
	claimed, err := s.store.ClaimReadyEvents(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("scheduler.claim_failed", "tick", tick, "err", err)
		return
	}

	if s.prom != nil {
		s.prom.ClaimedTotal.Add(float64(len(claimed)))
	}

	enqueued := 0
	enqueueFailed := 0

	for _, e := range claimed {
		// a failed enqueue is NOT rolled back: the event stays in
		// PROCESSING and the queue redrive / recovery path restores
		// liveness without a distributed transaction
		if err := s.q.Enqueue(ctx, BuildMessage(e)); err != nil {
			enqueueFailed++
			s.log.Error("scheduler.enqueue_failed",
				"tick", tick,
				"event_id", e.ID,
				"err", err,
			)
			continue
		}
		enqueued++
	}

	if s.prom != nil && enqueueFailed > 0 {
		s.prom.EnqueueFailedTotal.Add(float64(enqueueFailed))
	}

	s.log.Info("scheduler.tick",
		"tick", tick,
		"claimed", len(claimed),
		"enqueued", enqueued,
		"enqueue_failed", enqueueFailed,
	)
}

// BuildMessage renders the work-queue shape for one claimed occurrence.
// Recovery uses the identical shape so the worker cannot tell the paths
// apart.
func BuildMessage(e event.Event) queue.Message {
	return queue.Message{
		EventID:        e.ID,
		EventType:      string(e.EventType),
		IdempotencyKey: e.IdempotencyKey,
		Metadata: queue.Metadata{
			UserID:          e.UserID,
			DeliveryPayload: e.DeliveryPayload,
		},
	}
}
