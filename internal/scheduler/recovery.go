package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue"
)

// RecoveryStore is the read-only slice of the store recovery scans.
type RecoveryStore interface {
	FindMissedEvents(ctx context.Context, limit int) ([]event.Event, error)
}

// Recovery drains the backlog after downtime: it enqueues every overdue
// PENDING event without claiming anything, so it is idempotent and safe
// to re-run. The first scheduler tick afterwards claims the same rows;
// the worker's status check collapses the double enqueue into a single
// execution.
type Recovery struct {
	store      RecoveryStore
	q          queue.Queue
	batchLimit int
	log        *slog.Logger
	prom       *observability.Prom
}

func NewRecovery(store RecoveryStore, q queue.Queue, batchLimit int, log *slog.Logger, prom *observability.Prom) *Recovery {
	if batchLimit <= 0 {
		batchLimit = 1000
	}

	return &Recovery{store: store, q: q, batchLimit: batchLimit, log: log, prom: prom}
}

// Run performs the startup scan. It never returns an error: a process
// must come up even when recovery cannot reach its dependencies; the
// steady-state scheduler covers whatever was missed here.
func (r *Recovery) Run(ctx context.Context) {
	missed, err := r.store.FindMissedEvents(ctx, r.batchLimit)
	if err != nil {
		r.log.Error("recovery.scan_failed", "err", err)
		return
	}

	if len(missed) == 0 {
		r.log.Info("recovery.no_missed_events")
		return
	}

	queued := 0
	failed := 0

	for _, e := range missed {
		if err := r.q.Enqueue(ctx, BuildMessage(e)); err != nil {
			failed++
			r.log.Error("recovery.enqueue_failed", "event_id", e.ID, "err", err)
			continue
		}
		queued++
	}

	if r.prom != nil {
		r.prom.RecoveryQueuedTotal.Add(float64(queued))
	}

	r.log.Info("recovery.summary",
		"missed_count", len(missed),
		"oldest_missed", missed[0].TargetTimestampUTC.Format(time.RFC3339),
		"newest_missed", missed[len(missed)-1].TargetTimestampUTC.Format(time.RFC3339),
		"events_queued", queued,
		"events_failed", failed,
	)
}
