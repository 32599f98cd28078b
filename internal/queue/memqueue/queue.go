package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/chime/internal/queue"
)

// Queue is a channel-backed work queue for tests: FIFO, at-least-once in
// shape (deliveries carry receipts) but without redrive. Receive blocks up
// to PollWait, mirroring the redis long poll at test-friendly speed.
type Queue struct {
	PollWait time.Duration

	ch chan queue.Message

	mu       sync.Mutex
	enqueued []queue.Message
	acked    int
	closed   bool
}

func New() *Queue {
	return &Queue{
		PollWait: 50 * time.Millisecond,
		ch:       make(chan queue.Message, 1024),
	}
}

func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	q.enqueued = append(q.enqueued, msg)
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Receive(ctx context.Context) (*queue.Delivery, error) {
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return nil, queue.ErrClosed
		}
		return &queue.Delivery{Message: msg, ReceiveCount: 1, Receipt: msg.EventID}, nil
	case <-time.After(q.PollWait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked++
	return nil
}

// Enqueued returns a copy of every message ever enqueued, in order.
func (q *Queue) Enqueued() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]queue.Message, len(q.enqueued))
	copy(out, q.enqueued)
	return out
}

func (q *Queue) AckedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
