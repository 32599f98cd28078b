package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
)

func mustEvent(t *testing.T, userID string, target time.Time) event.Event {
	t.Helper()

	e, err := event.New(event.CreateRequest{
		UserID:      userID,
		EventType:   event.TypeBirthday,
		TargetUTC:   target,
		TargetLocal: target,
		Timezone:    "UTC",
		DeliveryPayload: map[string]any{
			"message":    "happy birthday",
			"webhookUrl": "https://example.com/hook",
		},
	})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return e
}

func TestCreateRejectsDuplicateIdempotencyKey(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()

	target := time.Now().UTC().Add(time.Hour)
	first := mustEvent(t, "user-1", target)

	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// same user, type and instant -> same key, different row id
	dup := mustEvent(t, "user-1", target)
	if err := repo.Create(ctx, dup); !errors.Is(err, event.ErrDuplicateEvent) {
		t.Fatalf("duplicate Create err = %v, want ErrDuplicateEvent", err)
	}

	// a different instant is a different occurrence
	other := mustEvent(t, "user-1", target.Add(time.Hour))
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create with different target: %v", err)
	}
}

func TestUpdateOptimisticLock(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()

	e := mustEvent(t, "user-1", time.Now().UTC().Add(-time.Minute))
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// two writers derive a transition from the same snapshot
	first, err := e.MarkProcessing()
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	second, err := e.Reschedule(e.TargetTimestampUTC.Add(time.Hour), e.TargetTimestampLocal.Add(time.Hour), "UTC")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if err := repo.Update(ctx, second); !errors.Is(err, event.ErrOptimisticLockConflict) {
		t.Fatalf("stale Update err = %v, want ErrOptimisticLockConflict", err)
	}

	stored, err := repo.FindByID(ctx, e.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != event.StatusProcessing {
		t.Fatalf("stored status = %s, want %s", stored.Status, event.StatusProcessing)
	}
}

func TestUpdateConcurrentWritersExactlyOneWins(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()

	e := mustEvent(t, "user-1", time.Now().UTC().Add(-time.Minute))
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const writers = 16

	var wg sync.WaitGroup
	results := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := e.MarkProcessing()
			if err != nil {
				results <- err
				return
			}
			results <- repo.Update(ctx, claimed)
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, event.ErrOptimisticLockConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, writers-1)
	}
}

func TestUpdateMissingEvent(t *testing.T) {
	repo := NewEventsRepo()

	e := mustEvent(t, "user-1", time.Now().UTC())
	if err := repo.Update(context.Background(), e); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("Update err = %v, want ErrNotFound", err)
	}
}

func TestClaimReadyEvents(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	overdue1 := mustEvent(t, "user-1", now.Add(-2*time.Hour))
	overdue2 := mustEvent(t, "user-2", now.Add(-1*time.Hour))
	future := mustEvent(t, "user-3", now.Add(time.Hour))

	for _, e := range []event.Event{overdue2, future, overdue1} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	claimed, err := repo.ClaimReadyEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimReadyEvents: %v", err)
	}

	if len(claimed) != 2 {
		t.Fatalf("claimed %d events, want 2", len(claimed))
	}
	// oldest target first
	if claimed[0].ID != overdue1.ID || claimed[1].ID != overdue2.ID {
		t.Fatalf("claim order = [%s %s], want [%s %s]", claimed[0].ID, claimed[1].ID, overdue1.ID, overdue2.ID)
	}
	for _, c := range claimed {
		if c.Status != event.StatusProcessing {
			t.Fatalf("claimed event %s status = %s", c.ID, c.Status)
		}
	}

	// a second pass finds nothing: the claim moved them out of PENDING
	again, err := repo.ClaimReadyEvents(ctx, 10)
	if err != nil {
		t.Fatalf("second ClaimReadyEvents: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d events", len(again))
	}
}

func TestClaimReadyEventsHonorsLimit(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		e := mustEvent(t, "user-1", now.Add(-time.Duration(i+1)*time.Hour))
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	claimed, err := repo.ClaimReadyEvents(ctx, 3)
	if err != nil {
		t.Fatalf("ClaimReadyEvents: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d, want 3", len(claimed))
	}

	rest, err := repo.ClaimReadyEvents(ctx, 3)
	if err != nil {
		t.Fatalf("ClaimReadyEvents: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("claimed %d, want 2", len(rest))
	}
}

func TestConcurrentClaimersNeverShareAnEvent(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 40
	for i := 0; i < total; i++ {
		e := mustEvent(t, "user-1", now.Add(-time.Duration(i+1)*time.Minute))
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	const claimers = 8

	var wg sync.WaitGroup
	claims := make(chan []event.Event, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repo.ClaimReadyEvents(ctx, 10)
			if err != nil {
				t.Errorf("ClaimReadyEvents: %v", err)
				return
			}
			claims <- got
		}()
	}
	wg.Wait()
	close(claims)

	seen := make(map[string]bool)
	claimedTotal := 0
	for batch := range claims {
		for _, e := range batch {
			if seen[e.ID] {
				t.Fatalf("event %s claimed twice", e.ID)
			}
			seen[e.ID] = true
			claimedTotal++
		}
	}

	if claimedTotal != total {
		t.Fatalf("claimed %d events across claimers, want %d", claimedTotal, total)
	}
}

func TestFindMissedEventsDoesNotClaim(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := mustEvent(t, "user-1", now.Add(-time.Hour))
	if err := repo.Create(ctx, overdue); err != nil {
		t.Fatalf("Create: %v", err)
	}

	missed, err := repo.FindMissedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("FindMissedEvents: %v", err)
	}
	if len(missed) != 1 || missed[0].ID != overdue.ID {
		t.Fatalf("missed = %v", missed)
	}

	// scanning is read-only: repeatable, and the row is still PENDING
	missedAgain, err := repo.FindMissedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("FindMissedEvents again: %v", err)
	}
	if len(missedAgain) != 1 {
		t.Fatalf("second scan returned %d events, want 1", len(missedAgain))
	}

	stored, _ := repo.FindByID(ctx, overdue.ID)
	if stored.Status != event.StatusPending {
		t.Fatalf("status after scan = %s, want PENDING", stored.Status)
	}
}

func TestDeleteByUserIDFreesIdempotencyKeys(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	target := time.Now().UTC().Add(time.Hour)

	mine := mustEvent(t, "user-1", target)
	theirs := mustEvent(t, "user-2", target)

	if err := repo.Create(ctx, mine); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, theirs); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.DeleteByUserID(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteByUserID: %v", err)
	}

	if _, err := repo.FindByID(ctx, mine.ID); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("FindByID after delete err = %v, want ErrNotFound", err)
	}
	if _, err := repo.FindByID(ctx, theirs.ID); err != nil {
		t.Fatalf("other user's event affected: %v", err)
	}

	// the key is free again: recreating the same occurrence succeeds
	recreated := mustEvent(t, "user-1", target)
	if err := repo.Create(ctx, recreated); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestFindByUserIDSortsByTarget(t *testing.T) {
	repo := NewEventsRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	later := mustEvent(t, "user-1", now.Add(48*time.Hour))
	sooner := mustEvent(t, "user-1", now.Add(24*time.Hour))

	if err := repo.Create(ctx, later); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, sooner); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindByUserID: %v", err)
	}
	if len(got) != 2 || got[0].ID != sooner.ID {
		t.Fatalf("order = %v", got)
	}
}
