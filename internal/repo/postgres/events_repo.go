package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, user_id, event_type, status,
	       target_ts_utc, target_ts_local, target_timezone,
	       executed_at, failure_reason, retry_count, version,
	       idempotency_key, delivery_payload, created_at, updated_at`

type EventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{pool: pool, prom: prom}
}

func (r *EventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (r *EventsRepo) Create(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e.DeliveryPayload)
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}

	op := "events.create"

	err = r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `INSERT INTO scheduled_events(
		id, user_id, event_type, status,
		target_ts_utc, target_ts_local, target_timezone,
		executed_at, failure_reason, retry_count, version,
		idempotency_key, delivery_payload, created_at, updated_at
	) VALUES (
		$1,$2,$3,$4,
		$5,$6,$7,
		$8,$9,$10,$11,
		$12,$13,$14,$15
	)`, e.ID, e.UserID, string(e.EventType), string(e.Status),
			e.TargetTimestampUTC, naiveLocal(e.TargetTimestampLocal), e.TargetTimezone,
			e.ExecutedAt, e.FailureReason, e.RetryCount, e.Version,
			e.IdempotencyKey, payload, e.CreatedAt, e.UpdatedAt)
		return execErr
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return event.ErrDuplicateEvent
		}
		return err
	}

	return nil
}

func (r *EventsRepo) FindByID(ctx context.Context, id string) (event.Event, error) {
	var e event.Event
	var err error

	op := "events.find_by_id"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE id = $1
	`, id)
		var scanErr error
		e, scanErr = scanEvent(row)
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	return e, nil
}

func (r *EventsRepo) FindByUserID(ctx context.Context, userID string) ([]event.Event, error) {
	var out []event.Event

	op := "events.find_by_user_id"

	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE user_id = $1
		ORDER BY target_ts_utc ASC
	`, userID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update persists a mutated entity. The entity's transition methods have
// already advanced Version; the row is only replaced when it still holds
// the previous version.
func (r *EventsRepo) Update(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e.DeliveryPayload)
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}

	var tag pgconn.CommandTag

	op := "events.update"

	err = r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE scheduled_events
		SET status = $3,
		    target_ts_utc = $4,
		    target_ts_local = $5,
		    target_timezone = $6,
		    executed_at = $7,
		    failure_reason = $8,
		    retry_count = $9,
		    version = $10,
		    idempotency_key = $11,
		    delivery_payload = $12,
		    updated_at = $13
		WHERE id = $1 AND version = $2
	`, e.ID, e.Version-1,
			string(e.Status), e.TargetTimestampUTC, naiveLocal(e.TargetTimestampLocal), e.TargetTimezone,
			e.ExecutedAt, e.FailureReason, e.RetryCount, e.Version,
			e.IdempotencyKey, payload, e.UpdatedAt)
		return execErr
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// stale version vs vanished row
		var exists bool
		checkErr := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM scheduled_events WHERE id = $1)`, e.ID).Scan(&exists)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return event.ErrNotFound
		}
		return event.ErrOptimisticLockConflict
	}

	return nil
}

// ClaimReadyEvents atomically selects up to limit ready PENDING rows,
// oldest first, skipping rows locked by concurrent claimers, and flips
// them to PROCESSING with the version advanced. Concurrent schedulers
// partition the ready set with no coordination beyond this statement.
func (r *EventsRepo) ClaimReadyEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []event.Event

	op := "events.claim_ready"

	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
		WITH ready AS (
			SELECT id
			FROM scheduled_events
			WHERE status = 'PENDING'
			  AND target_ts_utc <= NOW()
			ORDER BY target_ts_utc ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE scheduled_events e
		SET status = 'PROCESSING',
		    version = e.version + 1,
		    updated_at = NOW()
		FROM ready
		WHERE e.id = ready.id
		RETURNING `+prefixed("e.", eventColumns), limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not honor the CTE's ordering
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetTimestampUTC.Before(out[j].TargetTimestampUTC)
	})

	return out, nil
}

// FindMissedEvents is the recovery scan: ready-or-overdue PENDING rows,
// oldest first. Read-only so recovery stays safe to re-run.
func (r *EventsRepo) FindMissedEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []event.Event

	op := "events.find_missed"

	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE status = 'PENDING'
		  AND target_ts_utc < NOW()
		ORDER BY target_ts_utc ASC
		LIMIT $1
	`, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EventsRepo) DeleteByUserID(ctx context.Context, userID string) error {
	op := "events.delete_by_user_id"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM scheduled_events WHERE user_id = $1`, userID)
		return err
	})
}

// Admin ops listing: DESC keyset pagination over (updated_at, id).
func (r *EventsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []event.Event, hasMore bool, err error) {
	op := "events.admin.list_cursor"

	q := `
		SELECT ` + eventColumns + `
		FROM scheduled_events
	`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q += " WHERE " + strings.Join(conds, " AND ")
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limit+1)

	out := make([]event.Event, 0, limit)

	err = r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, q, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, false, err
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
	}

	return out, hasMore, nil
}

func scanEvent(row pgx.Row) (event.Event, error) {
	var (
		e         event.Event
		eventType string
		status    string
		local     time.Time
		payload   []byte
	)

	err := row.Scan(
		&e.ID, &e.UserID, &eventType, &status,
		&e.TargetTimestampUTC, &local, &e.TargetTimezone,
		&e.ExecutedAt, &e.FailureReason, &e.RetryCount, &e.Version,
		&e.IdempotencyKey, &payload, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return event.Event{}, err
	}

	e.EventType = event.Type(eventType)
	e.Status = event.Status(status)
	e.TargetTimestampLocal = rehydrateLocal(local, e.TargetTimezone)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.DeliveryPayload); err != nil {
			return event.Event{}, fmt.Errorf("decode delivery payload: %w", err)
		}
	}

	return e, nil
}

// target_ts_local is stored as a naive timestamp: the wall-clock digits in
// the target zone. Strip the zone before writing, re-attach after reading.
func naiveLocal(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func rehydrateLocal(naive time.Time, zone string) time.Time {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return naive
	}
	return time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), 0, loc)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
