package redisqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/chime/internal/queue"
	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	q := New(Config{
		Addr:              mr.Addr(),
		QueueName:         "events",
		DeadLetterName:    "events:dead",
		VisibilityTimeout: 30 * time.Second,
		MaxReceives:       3,
	}, nil, discardLogger())
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testMessage(id string) queue.Message {
	return queue.Message{
		EventID:        id,
		EventType:      "BIRTHDAY",
		IdempotencyKey: "event-" + id,
	}
}

func TestReceiveTracksInflight(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("e-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d == nil || d.Message.EventID != "e-1" || d.ReceiveCount != 1 {
		t.Fatalf("delivery = %+v", d)
	}

	if n, _ := q.rdb.LLen(ctx, q.cfg.QueueName).Result(); n != 0 {
		t.Fatalf("main list = %d, want 0", n)
	}
	if n, _ := q.rdb.LLen(ctx, q.processingKey()).Result(); n != 1 {
		t.Fatalf("processing list = %d, want 1", n)
	}
	if n, _ := q.rdb.ZCard(ctx, q.inflightKey()).Result(); n != 1 {
		t.Fatalf("inflight zset = %d, want 1", n)
	}

	// a tracked entry is not an orphan
	adopted, err := q.adoptOrphans(ctx)
	if err != nil {
		t.Fatalf("adoptOrphans: %v", err)
	}
	if adopted != 0 {
		t.Fatalf("adopted = %d, want 0", adopted)
	}
}

func TestAckClearsProcessingAndInflight(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("e-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Receive(ctx)
	if err != nil || d == nil {
		t.Fatalf("Receive: %v (%v)", err, d)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if n, _ := q.rdb.LLen(ctx, q.processingKey()).Result(); n != 0 {
		t.Fatalf("processing list = %d, want 0", n)
	}
	if n, _ := q.rdb.ZCard(ctx, q.inflightKey()).Result(); n != 0 {
		t.Fatalf("inflight zset = %d, want 0", n)
	}
}

func TestReaperAdoptsOrphanedProcessingEntry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("e-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Receive(ctx)
	if err != nil || d == nil {
		t.Fatalf("Receive: %v (%v)", err, d)
	}

	// drop the deadline entry, as if the tracking write had failed right
	// after the list move
	if err := q.rdb.ZRem(ctx, q.inflightKey(), d.Receipt).Err(); err != nil {
		t.Fatalf("ZRem: %v", err)
	}

	// the deadline sweep alone cannot see the entry
	n, err := q.reapOnce(ctx)
	if err != nil {
		t.Fatalf("reapOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("redriven = %d, want 0", n)
	}

	adopted, err := q.adoptOrphans(ctx)
	if err != nil {
		t.Fatalf("adoptOrphans: %v", err)
	}
	if adopted != 1 {
		t.Fatalf("adopted = %d, want 1", adopted)
	}

	// force the adopted deadline into the past and sweep again
	if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{Score: 1, Member: d.Receipt}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	n, err = q.reapOnce(ctx)
	if err != nil {
		t.Fatalf("reapOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("redriven = %d, want 1", n)
	}

	if got, _ := q.rdb.LLen(ctx, q.processingKey()).Result(); got != 0 {
		t.Fatalf("processing list = %d, want 0", got)
	}

	d2, err := q.Receive(ctx)
	if err != nil || d2 == nil {
		t.Fatalf("Receive after redrive: %v (%v)", err, d2)
	}
	if d2.Message.EventID != "e-1" || d2.ReceiveCount != 2 {
		t.Fatalf("redriven delivery = %+v", d2)
	}
}

func TestReaperDeadLettersAfterMaxReceives(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("e-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < q.cfg.MaxReceives; i++ {
		d, err := q.Receive(ctx)
		if err != nil || d == nil {
			t.Fatalf("Receive %d: %v (%v)", i+1, err, d)
		}
		if d.ReceiveCount != i+1 {
			t.Fatalf("receive count = %d, want %d", d.ReceiveCount, i+1)
		}

		// never acked: expire the visibility deadline and sweep
		if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{Score: 1, Member: d.Receipt}).Err(); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
		if _, err := q.reapOnce(ctx); err != nil {
			t.Fatalf("reapOnce: %v", err)
		}
	}

	if n, _ := q.rdb.LLen(ctx, q.cfg.DeadLetterName).Result(); n != 1 {
		t.Fatalf("dead letter list = %d, want 1", n)
	}
	if n, _ := q.rdb.LLen(ctx, q.cfg.QueueName).Result(); n != 0 {
		t.Fatalf("main list = %d, want 0", n)
	}
}
