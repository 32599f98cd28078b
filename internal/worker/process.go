package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/queue"
)

// delivery results as they appear in logs and metric labels
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultRetry     = "retry"
)

// ProcessDelivery executes one queue message end to end: re-read the row,
// verify it is still PROCESSING, deliver, persist the terminal transition,
// seed the next occurrence, ack. The ack always comes after the store
// write; a crash in between yields a redelivery that the status check
// turns into a skip.
func (w *Worker) ProcessDelivery(ctx context.Context, d *queue.Delivery) (string, error) {
	e, err := w.store.FindByID(ctx, d.Message.EventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			// user deleted while the message was in flight; the cascade
			// removed the row, nothing left to deliver
			w.metrics.IncSkipped()
			w.log.InfoContext(ctx, "worker.event_gone", "event_id", d.Message.EventID)
			return ResultSkipped, w.q.Ack(ctx, d)
		}
		return ResultRetry, fmt.Errorf("load event %s: %w", d.Message.EventID, err)
	}

	if e.Status != event.StatusProcessing {
		// duplicate enqueue (recovery + first tick) or a redelivery of an
		// already-finished message
		w.metrics.IncSkipped()
		w.log.InfoContext(ctx, "worker.not_processing",
			"event_id", e.ID,
			"status", string(e.Status),
		)
		return ResultSkipped, w.q.Ack(ctx, d)
	}

	url, _ := e.DeliveryPayload["webhookUrl"].(string)
	if url == "" {
		return w.finishFailed(ctx, d, e, "delivery payload has no webhookUrl")
	}

	if err := w.hooks.Deliver(ctx, url, e.DeliveryPayload, e.IdempotencyKey); err != nil {
		return w.finishFailed(ctx, d, e, err.Error())
	}

	completed, err := e.MarkCompleted(time.Now().UTC())
	if err != nil {
		// status was checked above; only a racing redelivery in this very
		// process gets here
		w.metrics.IncSkipped()
		return ResultSkipped, w.q.Ack(ctx, d)
	}

	if err := w.persistTerminal(ctx, completed); err != nil {
		if errors.Is(err, errRowSuperseded) {
			w.metrics.IncSkipped()
			return ResultSkipped, w.q.Ack(ctx, d)
		}
		// store unreachable: leave the message unacked so the redrive
		// path retries after the visibility timeout
		return ResultRetry, fmt.Errorf("persist completion for event %s: %w", e.ID, err)
	}

	w.metrics.IncCompleted()
	w.seedNext(ctx, completed)

	return ResultCompleted, w.q.Ack(ctx, d)
}

func (w *Worker) finishFailed(ctx context.Context, d *queue.Delivery, e event.Event, reason string) (string, error) {
	failed, err := e.MarkFailed(reason, time.Now().UTC())
	if err != nil {
		w.metrics.IncSkipped()
		return ResultSkipped, w.q.Ack(ctx, d)
	}

	if err := w.persistTerminal(ctx, failed); err != nil {
		if errors.Is(err, errRowSuperseded) {
			w.metrics.IncSkipped()
			return ResultSkipped, w.q.Ack(ctx, d)
		}
		return ResultRetry, fmt.Errorf("persist failure for event %s: %w", e.ID, err)
	}

	w.metrics.IncFailed()
	w.log.WarnContext(ctx, "worker.delivery_failed",
		"event_id", e.ID,
		"user_id", e.UserID,
		"retry_count", failed.RetryCount,
		"reason", reason,
	)

	return ResultFailed, w.q.Ack(ctx, d)
}

// errRowSuperseded marks terminal-write outcomes where another writer owns
// the row now: a concurrent cascade delete or a duplicate consumer that
// finished first. Both mean this delivery has nothing left to record.
var errRowSuperseded = errors.New("event row superseded")

func (w *Worker) persistTerminal(ctx context.Context, e event.Event) error {
	err := w.store.Update(ctx, e)
	if err == nil {
		return nil
	}
	if errors.Is(err, event.ErrNotFound) || errors.Is(err, event.ErrOptimisticLockConflict) {
		return errRowSuperseded
	}
	return err
}

// seedNext schedules the following occurrence: same user, same type, same
// payload, the next instant strictly after the completed target. The date
// of birth comes from the user row, not from the delivered occurrence's
// calendar date — a Feb 29 birthday substituted to Mar 1 this year must
// still land on Feb 29 in the next leap year. Seeding failures are logged,
// never fatal; the delivery itself succeeded and must be acked.
func (w *Worker) seedNext(ctx context.Context, done event.Event) {
	u, err := w.users.GetByID(ctx, done.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// user deleted while the delivery ran; the cascade owns cleanup
			w.log.InfoContext(ctx, "worker.seed_next.user_gone", "event_id", done.ID, "user_id", done.UserID)
			return
		}
		w.log.ErrorContext(ctx, "worker.seed_next.user_lookup_failed", "event_id", done.ID, "err", err)
		return
	}

	occ, err := w.sched.Next(done.EventType, u.DateOfBirth, u.Timezone, done.TargetTimestampUTC.Add(time.Second))
	if err != nil {
		w.log.ErrorContext(ctx, "worker.seed_next.compute_failed", "event_id", done.ID, "err", err)
		return
	}

	next, err := event.New(event.CreateRequest{
		UserID:          done.UserID,
		EventType:       done.EventType,
		TargetUTC:       occ.UTC,
		TargetLocal:     occ.Local,
		Timezone:        occ.Zone,
		DeliveryPayload: done.DeliveryPayload,
	})
	if err != nil {
		w.log.ErrorContext(ctx, "worker.seed_next.build_failed", "event_id", done.ID, "err", err)
		return
	}

	if err := w.store.Create(ctx, next); err != nil {
		if errors.Is(err, event.ErrDuplicateEvent) {
			w.log.InfoContext(ctx, "worker.seed_next.duplicate",
				"event_id", done.ID,
				"idempotency_key", next.IdempotencyKey,
			)
			return
		}
		w.log.ErrorContext(ctx, "worker.seed_next.create_failed", "event_id", done.ID, "err", err)
		return
	}

	w.log.InfoContext(ctx, "worker.seed_next.scheduled",
		"event_id", done.ID,
		"next_event_id", next.ID,
		"target_utc", next.TargetTimestampUTC.Format(time.RFC3339),
	)
}
