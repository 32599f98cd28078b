package reactors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/chime/internal/bus"
	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/schedule"
)

// EventStore is the slice of the event store the reactors need.
type EventStore interface {
	Create(ctx context.Context, e event.Event) error
	FindByUserID(ctx context.Context, userID string) ([]event.Event, error)
	Update(ctx context.Context, e event.Event) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// UserLookup resolves current user state; timezone changes need the
// original date of birth, which the event rows do not carry.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (user.Info, error)
}

// Reactors subscribes the scheduling core to the user context's domain
// events: create seeds the first occurrence, birthday/timezone changes
// reschedule PENDING occurrences, delete cascades.
type Reactors struct {
	store EventStore
	users UserLookup
	sched *schedule.Service
	log   *slog.Logger
}

func New(store EventStore, users UserLookup, sched *schedule.Service, log *slog.Logger) *Reactors {
	return &Reactors{store: store, users: users, sched: sched, log: log}
}

// Register attaches the reactors to the bus. Call once during startup
// wiring, before anything publishes.
func (r *Reactors) Register(b *bus.Bus) {
	b.Subscribe(user.EventCreated, func(ctx context.Context, evt any) error {
		created, ok := evt.(user.Created)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", evt, user.EventCreated)
		}
		return r.HandleUserCreated(ctx, created)
	})

	b.Subscribe(user.EventBirthdayChanged, func(ctx context.Context, evt any) error {
		changed, ok := evt.(user.BirthdayChanged)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", evt, user.EventBirthdayChanged)
		}

		res, err := r.RescheduleForBirthdayChange(ctx, changed)
		if err != nil {
			return err
		}
		r.logReschedule("reactor.birthday_changed", changed.UserID, res)
		return nil
	})

	b.Subscribe(user.EventTimezoneChanged, func(ctx context.Context, evt any) error {
		changed, ok := evt.(user.TimezoneChanged)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", evt, user.EventTimezoneChanged)
		}

		res, err := r.RescheduleForTimezoneChange(ctx, changed)
		if err != nil {
			return err
		}
		r.logReschedule("reactor.timezone_changed", changed.UserID, res)
		return nil
	})

	b.Subscribe(user.EventDeleted, func(ctx context.Context, evt any) error {
		deleted, ok := evt.(user.Deleted)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", evt, user.EventDeleted)
		}
		return r.HandleUserDeleted(ctx, deleted)
	})
}

// HandleUserCreated seeds the first birthday occurrence. A duplicate
// idempotency key means the occurrence already exists: success.
func (r *Reactors) HandleUserCreated(ctx context.Context, evt user.Created) error {
	occ, err := r.sched.Next(event.TypeBirthday, evt.DateOfBirth, evt.Timezone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("compute first occurrence for user %s: %w", evt.UserID, err)
	}

	e, err := event.New(event.CreateRequest{
		UserID:      evt.UserID,
		EventType:   event.TypeBirthday,
		TargetUTC:   occ.UTC,
		TargetLocal: occ.Local,
		Timezone:    occ.Zone,
		DeliveryPayload: map[string]any{
			"message":    fmt.Sprintf("Hey, %s %s it's your birthday", evt.FirstName, evt.LastName),
			"webhookUrl": evt.WebhookURL,
		},
	})
	if err != nil {
		return fmt.Errorf("build birthday event for user %s: %w", evt.UserID, err)
	}

	if err := r.store.Create(ctx, e); err != nil {
		if errors.Is(err, event.ErrDuplicateEvent) {
			r.log.Info("reactor.user_created.duplicate",
				"user_id", evt.UserID,
				"idempotency_key", e.IdempotencyKey,
			)
			return nil
		}
		return fmt.Errorf("persist birthday event for user %s: %w", evt.UserID, err)
	}

	r.log.Info("reactor.user_created.scheduled",
		"user_id", evt.UserID,
		"event_id", e.ID,
		"target_utc", e.TargetTimestampUTC.Format(time.RFC3339),
		"target_zone", e.TargetTimezone,
	)
	return nil
}

// RescheduleResult summarizes one reschedule sweep over a user's events.
type RescheduleResult struct {
	RescheduledCount  int      `json:"rescheduledCount"`
	SkippedCount      int      `json:"skippedCount"`
	SkippedEventIDs   []string `json:"skippedEventIds"`
	TotalPendingCount int      `json:"totalPendingCount"`
}

// RescheduleForBirthdayChange recomputes every PENDING occurrence with the
// new date of birth in the zone each event is already scheduled in. Events
// past PENDING are in flight (or terminal) and are left untouched.
func (r *Reactors) RescheduleForBirthdayChange(ctx context.Context, evt user.BirthdayChanged) (RescheduleResult, error) {
	return r.rescheduleAll(ctx, evt.UserID, func(e event.Event) (schedule.Occurrence, error) {
		return r.sched.Next(e.EventType, evt.NewDateOfBirth, e.TargetTimezone, time.Now().UTC())
	})
}

// RescheduleForTimezoneChange recomputes with the original date of birth in
// the new zone. The recomputed instant may be earlier than the old one;
// the event simply becomes claimable sooner.
func (r *Reactors) RescheduleForTimezoneChange(ctx context.Context, evt user.TimezoneChanged) (RescheduleResult, error) {
	u, err := r.users.GetByID(ctx, evt.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// user vanished between publish and handling; the delete
			// reactor owns the cleanup
			r.log.Info("reactor.timezone_changed.user_gone", "user_id", evt.UserID)
			return RescheduleResult{}, nil
		}
		return RescheduleResult{}, err
	}

	return r.rescheduleAll(ctx, evt.UserID, func(e event.Event) (schedule.Occurrence, error) {
		return r.sched.Next(e.EventType, u.DateOfBirth, evt.NewTimezone, time.Now().UTC())
	})
}

func (r *Reactors) rescheduleAll(ctx context.Context, userID string, next func(event.Event) (schedule.Occurrence, error)) (RescheduleResult, error) {
	events, err := r.store.FindByUserID(ctx, userID)
	if err != nil {
		return RescheduleResult{}, fmt.Errorf("load events for user %s: %w", userID, err)
	}

	var res RescheduleResult

	for _, e := range events {
		if e.Status != event.StatusPending {
			res.SkippedCount++
			res.SkippedEventIDs = append(res.SkippedEventIDs, e.ID)
			continue
		}

		res.TotalPendingCount++

		occ, err := next(e)
		if err != nil {
			res.SkippedCount++
			res.SkippedEventIDs = append(res.SkippedEventIDs, e.ID)
			r.log.Error("reactor.reschedule.compute_failed", "event_id", e.ID, "err", err)
			continue
		}

		updated, err := e.Reschedule(occ.UTC, occ.Local, occ.Zone)
		if err != nil {
			res.SkippedCount++
			res.SkippedEventIDs = append(res.SkippedEventIDs, e.ID)
			continue
		}

		if err := r.store.Update(ctx, updated); err != nil {
			// a concurrent writer (claim or another reschedule) got
			// there first; that writer owns the event now
			if errors.Is(err, event.ErrOptimisticLockConflict) || errors.Is(err, event.ErrNotFound) {
				res.SkippedCount++
				res.SkippedEventIDs = append(res.SkippedEventIDs, e.ID)
				continue
			}
			return res, fmt.Errorf("update event %s: %w", e.ID, err)
		}

		res.RescheduledCount++
	}

	return res, nil
}

// HandleUserDeleted cascades. PROCESSING events still in flight are fine:
// the worker treats a vanished row as a no-op.
func (r *Reactors) HandleUserDeleted(ctx context.Context, evt user.Deleted) error {
	if err := r.store.DeleteByUserID(ctx, evt.UserID); err != nil {
		return fmt.Errorf("cascade delete events for user %s: %w", evt.UserID, err)
	}

	r.log.Info("reactor.user_deleted.cascaded", "user_id", evt.UserID)
	return nil
}

func (r *Reactors) logReschedule(msg, userID string, res RescheduleResult) {
	r.log.Info(msg,
		"user_id", userID,
		"rescheduled", res.RescheduledCount,
		"skipped", res.SkippedCount,
		"total_pending", res.TotalPendingCount,
	)
}
