package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
)

// EventsRepo is the in-memory event store. It mirrors the Postgres repo's
// semantics closely enough for the concurrency properties to be testable:
// claims are atomic under the lock, updates are version-checked, creates
// are unique on idempotency key.
type EventsRepo struct {
	mu    sync.Mutex
	items map[string]event.Event
	keys  map[string]string // idempotency key -> event id
}

func NewEventsRepo() *EventsRepo {
	return &EventsRepo{
		items: make(map[string]event.Event),
		keys:  make(map[string]string),
	}
}

func (r *EventsRepo) Create(ctx context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.keys[e.IdempotencyKey]; dup {
		return event.ErrDuplicateEvent
	}

	r.items[e.ID] = cloneEvent(e)
	r.keys[e.IdempotencyKey] = e.ID
	return nil
}

func (r *EventsRepo) FindByID(ctx context.Context, id string) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (r *EventsRepo) FindByUserID(ctx context.Context, userID string) ([]event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []event.Event
	for _, e := range r.items {
		if e.UserID == userID {
			out = append(out, cloneEvent(e))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTimestampUTC.Before(out[j].TargetTimestampUTC)
	})
	return out, nil
}

func (r *EventsRepo) Update(ctx context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	curr, ok := r.items[e.ID]
	if !ok {
		return event.ErrNotFound
	}

	if curr.Version != e.Version-1 {
		return event.ErrOptimisticLockConflict
	}

	if curr.IdempotencyKey != e.IdempotencyKey {
		if owner, dup := r.keys[e.IdempotencyKey]; dup && owner != e.ID {
			return event.ErrDuplicateEvent
		}
		delete(r.keys, curr.IdempotencyKey)
		r.keys[e.IdempotencyKey] = e.ID
	}

	r.items[e.ID] = cloneEvent(e)
	return nil
}

func (r *EventsRepo) ClaimReadyEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	var ready []event.Event
	for _, e := range r.items {
		if e.Ready(now) {
			ready = append(ready, e)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].TargetTimestampUTC.Before(ready[j].TargetTimestampUTC)
	})

	if len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]event.Event, 0, len(ready))
	for _, e := range ready {
		claimed, err := e.MarkProcessing()
		if err != nil {
			return nil, err
		}
		r.items[claimed.ID] = claimed
		out = append(out, cloneEvent(claimed))
	}

	return out, nil
}

func (r *EventsRepo) FindMissedEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	var out []event.Event
	for _, e := range r.items {
		if e.Status == event.StatusPending && e.TargetTimestampUTC.Before(now) {
			out = append(out, cloneEvent(e))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTimestampUTC.Before(out[j].TargetTimestampUTC)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EventsRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.items {
		if e.UserID == userID {
			delete(r.items, id)
			delete(r.keys, e.IdempotencyKey)
		}
	}
	return nil
}

func cloneEvent(e event.Event) event.Event {
	out := e

	if e.DeliveryPayload != nil {
		payload := make(map[string]any, len(e.DeliveryPayload))
		for k, v := range e.DeliveryPayload {
			payload[k] = v
		}
		out.DeliveryPayload = payload
	}
	if e.ExecutedAt != nil {
		at := *e.ExecutedAt
		out.ExecutedAt = &at
	}
	if e.FailureReason != nil {
		reason := *e.FailureReason
		out.FailureReason = &reason
	}
	return out
}
