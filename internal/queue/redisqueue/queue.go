package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const receiveWait = 5 * time.Second

// envelope wraps a queue.Message on the wire so the reaper can track how
// often a message has been handed out.
type envelope struct {
	ID           string        `json:"id"`
	ReceiveCount int           `json:"receiveCount"`
	Message      queue.Message `json:"message"`
}

type Config struct {
	Addr     string
	Password string
	DB       int

	QueueName         string
	DeadLetterName    string
	VisibilityTimeout time.Duration
	MaxReceives       int
}

// Queue implements the work-queue port on redis lists: LPUSH onto the main
// list, BLMOVE into a processing list on receive, and an inflight zset
// keyed by visibility deadline so the reaper can redrive stalled messages.
type Queue struct {
	rdb  *redis.Client
	cfg  Config
	prom *observability.Prom
	log  *slog.Logger
}

func New(cfg Config, prom *observability.Prom, log *slog.Logger) *Queue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = 5
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  receiveWait + 2*time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Queue{rdb: rdb, cfg: cfg, prom: prom, log: log}
}

func (q *Queue) processingKey() string { return q.cfg.QueueName + ":processing" }
func (q *Queue) inflightKey() string   { return q.cfg.QueueName + ":inflight" }

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	raw, err := json.Marshal(envelope{
		ID:      uuid.NewString(),
		Message: msg,
	})
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	return q.prom.ObserveQueue("enqueue", func() error {
		return q.rdb.LPush(ctx, q.cfg.QueueName, raw).Err()
	})
}

func (q *Queue) Receive(ctx context.Context) (*queue.Delivery, error) {
	var raw string
	err := q.prom.ObserveQueue("receive", func() error {
		var rerr error
		raw, rerr = q.rdb.BLMove(ctx, q.cfg.QueueName, q.processingKey(), "RIGHT", "LEFT", receiveWait).Result()
		return rerr
	})

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue receive: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// poison entry; shunt it to the dead-letter list as-is
		q.log.Error("queue.poison_message", "err", err)
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, raw)
		pipe.LPush(ctx, q.cfg.DeadLetterName, raw)
		_, _ = pipe.Exec(ctx)
		return nil, nil
	}

	deadline := float64(time.Now().Add(q.cfg.VisibilityTimeout).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{Score: deadline, Member: raw}).Err(); err != nil {
		return nil, fmt.Errorf("queue track inflight: %w", err)
	}

	return &queue.Delivery{
		Message:      env.Message,
		ReceiveCount: env.ReceiveCount + 1,
		Receipt:      raw,
	}, nil
}

func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return q.prom.ObserveQueue("ack", func() error {
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, d.Receipt)
		pipe.ZRem(ctx, q.inflightKey(), d.Receipt)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Depth samples the main-list length into the queue depth gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.cfg.QueueName).Result()
	if err != nil {
		return 0, err
	}
	if q.prom != nil {
		q.prom.QueueDepth.Set(float64(n))
	}
	return n, nil
}
