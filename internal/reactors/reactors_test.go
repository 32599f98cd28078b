package reactors

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/domain/user"
	"github.com/geocoder89/chime/internal/repo/memory"
	"github.com/geocoder89/chime/internal/schedule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser() user.Info {
	now := time.Now().UTC()
	return user.Info{
		ID:          "2a1f5b3c-0000-4000-8000-000000000001",
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: user.Date{Year: 1990, Month: time.March, Day: 1},
		Timezone:    "America/New_York",
		WebhookURL:  "https://example.com/hook",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newFixture(t *testing.T) (*Reactors, *memory.EventsRepo, *memory.UsersRepo, *schedule.Service) {
	t.Helper()

	events := memory.NewEventsRepo()
	users := memory.NewUsersRepo()
	sched := schedule.NewService("", discardLogger())

	return New(events, users, sched, discardLogger()), events, users, sched
}

func TestHandleUserCreatedSeedsFirstOccurrence(t *testing.T) {
	r, events, _, sched := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("HandleUserCreated: %v", err)
	}

	stored, err := events.FindByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByUserID: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("seeded %d events, want 1", len(stored))
	}

	e := stored[0]
	if e.Status != event.StatusPending || e.EventType != event.TypeBirthday {
		t.Fatalf("seeded event malformed: %+v", e)
	}

	occ, err := sched.Next(event.TypeBirthday, u.DateOfBirth, u.Timezone, time.Now().UTC())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !e.TargetTimestampUTC.Equal(occ.UTC) {
		t.Fatalf("target = %s, want %s", e.TargetTimestampUTC, occ.UTC)
	}

	msg, _ := e.DeliveryPayload["message"].(string)
	if !strings.Contains(msg, "Jane Doe") {
		t.Fatalf("payload message = %q", msg)
	}
	if url, _ := e.DeliveryPayload["webhookUrl"].(string); url != u.WebhookURL {
		t.Fatalf("payload webhookUrl = %q", url)
	}
}

func TestHandleUserCreatedDuplicateIsNoop(t *testing.T) {
	r, events, _, _ := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("first HandleUserCreated: %v", err)
	}
	// a replayed domain event lands on the same idempotency key
	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("replayed HandleUserCreated: %v", err)
	}

	stored, _ := events.FindByUserID(ctx, u.ID)
	if len(stored) != 1 {
		t.Fatalf("events after replay = %d, want 1", len(stored))
	}
}

func TestRescheduleForBirthdayChange(t *testing.T) {
	r, events, _, sched := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("HandleUserCreated: %v", err)
	}

	newDOB := user.Date{Year: 1990, Month: time.September, Day: 20}

	res, err := r.RescheduleForBirthdayChange(ctx, user.NewBirthdayChanged(u.ID, newDOB))
	if err != nil {
		t.Fatalf("RescheduleForBirthdayChange: %v", err)
	}

	if res.RescheduledCount != 1 || res.SkippedCount != 0 || res.TotalPendingCount != 1 {
		t.Fatalf("result = %+v", res)
	}

	stored, _ := events.FindByUserID(ctx, u.ID)
	occ, _ := sched.Next(event.TypeBirthday, newDOB, u.Timezone, time.Now().UTC())
	if !stored[0].TargetTimestampUTC.Equal(occ.UTC) {
		t.Fatalf("target = %s, want %s", stored[0].TargetTimestampUTC, occ.UTC)
	}
}

func TestRescheduleSkipsInFlightEvents(t *testing.T) {
	r, events, _, _ := newFixture(t)
	ctx := context.Background()
	u := testUser()

	// a PROCESSING event must not be touched
	overdue, err := event.New(event.CreateRequest{
		UserID:      u.ID,
		EventType:   event.TypeBirthday,
		TargetUTC:   time.Now().UTC().Add(-time.Hour),
		TargetLocal: time.Now().Add(-time.Hour),
		Timezone:    u.Timezone,
	})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := events.Create(ctx, overdue); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := events.ClaimReadyEvents(ctx, 1); err != nil {
		t.Fatalf("ClaimReadyEvents: %v", err)
	}

	newDOB := user.Date{Year: 1990, Month: time.September, Day: 20}
	res, err := r.RescheduleForBirthdayChange(ctx, user.NewBirthdayChanged(u.ID, newDOB))
	if err != nil {
		t.Fatalf("RescheduleForBirthdayChange: %v", err)
	}

	if res.RescheduledCount != 0 || res.SkippedCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.SkippedEventIDs) != 1 || res.SkippedEventIDs[0] != overdue.ID {
		t.Fatalf("skipped ids = %v", res.SkippedEventIDs)
	}

	stored, _ := events.FindByID(ctx, overdue.ID)
	if stored.Status != event.StatusProcessing {
		t.Fatalf("in-flight event status = %s", stored.Status)
	}
}

func TestRescheduleForTimezoneChange(t *testing.T) {
	r, events, users, sched := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("users.Create: %v", err)
	}
	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("HandleUserCreated: %v", err)
	}

	res, err := r.RescheduleForTimezoneChange(ctx, user.NewTimezoneChanged(u.ID, "Asia/Tokyo"))
	if err != nil {
		t.Fatalf("RescheduleForTimezoneChange: %v", err)
	}
	if res.RescheduledCount != 1 {
		t.Fatalf("result = %+v", res)
	}

	stored, _ := events.FindByUserID(ctx, u.ID)
	occ, _ := sched.Next(event.TypeBirthday, u.DateOfBirth, "Asia/Tokyo", time.Now().UTC())
	if !stored[0].TargetTimestampUTC.Equal(occ.UTC) {
		t.Fatalf("target = %s, want %s", stored[0].TargetTimestampUTC, occ.UTC)
	}
	if stored[0].TargetTimezone != "Asia/Tokyo" {
		t.Fatalf("zone = %s", stored[0].TargetTimezone)
	}
}

func TestRescheduleForTimezoneChangeUserGone(t *testing.T) {
	r, _, _, _ := newFixture(t)

	res, err := r.RescheduleForTimezoneChange(context.Background(), user.NewTimezoneChanged("missing-user", "Asia/Tokyo"))
	if err != nil {
		t.Fatalf("RescheduleForTimezoneChange: %v", err)
	}
	if res.RescheduledCount != 0 || res.SkippedCount != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleUserDeletedCascades(t *testing.T) {
	r, events, _, _ := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if err := r.HandleUserCreated(ctx, user.NewCreated(u)); err != nil {
		t.Fatalf("HandleUserCreated: %v", err)
	}
	if err := r.HandleUserDeleted(ctx, user.NewDeleted(u.ID)); err != nil {
		t.Fatalf("HandleUserDeleted: %v", err)
	}

	stored, _ := events.FindByUserID(ctx, u.ID)
	if len(stored) != 0 {
		t.Fatalf("events after cascade = %d, want 0", len(stored))
	}
}
