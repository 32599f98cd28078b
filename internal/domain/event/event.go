package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeBirthday Type = "BIRTHDAY"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeBirthday:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// maximum nesting depth accepted in a delivery payload
const maxPayloadDepth = 10

// maximum delivery failures before an occurrence stops being retryable
const maxRetries = 3

// Event is one scheduled firing for a user/event-type at a specific UTC
// instant. Transition methods return a copy with the version advanced;
// the stored row is only replaced through a version-checked update, so a
// stale copy can never clobber a newer one.
type Event struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"userId"`
	EventType            Type           `json:"eventType"`
	Status               Status         `json:"status"`
	TargetTimestampUTC   time.Time      `json:"targetTimestampUtc"`
	TargetTimestampLocal time.Time      `json:"targetTimestampLocal"`
	TargetTimezone       string         `json:"targetTimezone"`
	ExecutedAt           *time.Time     `json:"executedAt,omitempty"`
	FailureReason        *string        `json:"failureReason,omitempty"`
	RetryCount           int            `json:"retryCount"`
	Version              int64          `json:"version"`
	IdempotencyKey       string         `json:"idempotencyKey"`
	DeliveryPayload      map[string]any `json:"deliveryPayload"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

type CreateRequest struct {
	UserID          string
	EventType       Type
	TargetUTC       time.Time
	TargetLocal     time.Time
	Timezone        string
	DeliveryPayload map[string]any
}

func New(req CreateRequest) (Event, error) {
	if !req.EventType.IsValid() {
		return Event{}, ErrInvalidEventType
	}
	if req.UserID == "" {
		return Event{}, ErrMissingUserID
	}
	if depth := payloadDepth(req.DeliveryPayload); depth > maxPayloadDepth {
		return Event{}, fmt.Errorf("%w: nesting depth %d", ErrPayloadTooDeep, depth)
	}

	now := time.Now().UTC()

	return Event{
		ID:                   uuid.NewString(),
		UserID:               req.UserID,
		EventType:            req.EventType,
		Status:               StatusPending,
		TargetTimestampUTC:   req.TargetUTC.UTC(),
		TargetTimestampLocal: req.TargetLocal,
		TargetTimezone:       req.Timezone,
		Version:              1,
		IdempotencyKey:       IdempotencyKey(req.UserID, req.TargetUTC, req.EventType),
		DeliveryPayload:      req.DeliveryPayload,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Ready reports whether the event is claimable at the given instant.
func (e Event) Ready(now time.Time) bool {
	return e.Status == StatusPending && !e.TargetTimestampUTC.After(now)
}

// MarkProcessing is the claim transition. Normally the store performs it
// inside the claim statement; the in-memory store and tests go through here.
func (e Event) MarkProcessing() (Event, error) {
	if e.Status != StatusPending {
		return Event{}, transitionErr(e.Status, StatusProcessing)
	}

	out := e
	out.Status = StatusProcessing
	out.touch()
	return out, nil
}

func (e Event) MarkCompleted(at time.Time) (Event, error) {
	if e.Status != StatusProcessing {
		return Event{}, transitionErr(e.Status, StatusCompleted)
	}

	at = at.UTC()
	out := e
	out.Status = StatusCompleted
	out.ExecutedAt = &at
	out.touch()
	return out, nil
}

func (e Event) MarkFailed(reason string, at time.Time) (Event, error) {
	if e.Status != StatusProcessing {
		return Event{}, transitionErr(e.Status, StatusFailed)
	}

	at = at.UTC()
	out := e
	out.Status = StatusFailed
	out.ExecutedAt = &at
	out.FailureReason = &reason
	out.RetryCount++
	out.touch()
	return out, nil
}

// Reschedule moves a PENDING occurrence to a new instant. The idempotency
// key follows the timestamp: a rescheduled occurrence is a new occurrence.
func (e Event) Reschedule(targetUTC, targetLocal time.Time, zone string) (Event, error) {
	if e.Status != StatusPending {
		return Event{}, transitionErr(e.Status, StatusPending)
	}

	out := e
	out.TargetTimestampUTC = targetUTC.UTC()
	out.TargetTimestampLocal = targetLocal
	out.TargetTimezone = zone
	out.IdempotencyKey = IdempotencyKey(e.UserID, targetUTC, e.EventType)
	out.touch()
	return out, nil
}

// CanRetry reports whether an operator-driven requeue is still allowed.
// The worker never calls this; redrive of transient failures belongs to
// the work queue.
func (e Event) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < maxRetries
}

// Requeue returns a FAILED occurrence to PENDING so the next scheduler
// tick picks it up again. RetryCount is kept: the retry budget spans
// requeues.
func (e Event) Requeue() (Event, error) {
	if !e.CanRetry() {
		return Event{}, transitionErr(e.Status, StatusPending)
	}

	out := e
	out.Status = StatusPending
	out.ExecutedAt = nil
	out.FailureReason = nil
	out.touch()
	return out, nil
}

func (e *Event) touch() {
	e.Version++
	e.UpdatedAt = time.Now().UTC()
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

func payloadDepth(v any) int {
	switch vv := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range vv {
			if d := payloadDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range vv {
			if d := payloadDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
