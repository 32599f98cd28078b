package redisqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunReaper periodically returns inflight messages whose visibility
// deadline has lapsed to the main list, dead-lettering messages received
// too many times. Safe to run from several worker processes at once: the
// LRem/ZRem pair only succeeds for whichever process gets there first.
func (q *Queue) RunReaper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := q.reapOnce(hctx)
			if err != nil {
				cancel()
				q.log.Error("queue.reaper_error", "err", err)
				continue
			}

			adopted, err := q.adoptOrphans(hctx)
			cancel()
			if err != nil {
				q.log.Error("queue.reaper_error", "err", err)
				continue
			}

			if n > 0 {
				q.log.Info("queue.redriven", "count", n)
			}
			if adopted > 0 {
				q.log.Info("queue.orphans_adopted", "count", adopted)
			}

			_, _ = q.Depth(ctx)
		}
	}
}

// adoptOrphans gives a visibility deadline to processing-list entries the
// inflight zset does not know about. Receive moves a message into the
// processing list before it writes the deadline; if that second write
// fails, the entry would otherwise sit in processing forever, invisible to
// the deadline sweep above. ZAddNX never touches entries a live consumer
// is already tracking.
func (q *Queue) adoptOrphans(ctx context.Context) (int, error) {
	entries, err := q.rdb.LRange(ctx, q.processingKey(), 0, 99).Result()
	if err != nil {
		return 0, err
	}

	deadline := float64(time.Now().Add(q.cfg.VisibilityTimeout).UnixMilli())
	adopted := 0

	for _, raw := range entries {
		n, err := q.rdb.ZAddNX(ctx, q.inflightKey(), redis.Z{Score: deadline, Member: raw}).Result()
		if err != nil {
			return adopted, err
		}
		adopted += int(n)
	}

	return adopted, nil
}

func (q *Queue) reapOnce(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	expired, err := q.rdb.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}

	redriven := 0

	for _, raw := range expired {
		// claim the expired entry; zero removals means another reaper won
		removed, err := q.rdb.ZRem(ctx, q.inflightKey(), raw).Result()
		if err != nil {
			return redriven, err
		}
		if removed == 0 {
			continue
		}

		if err := q.rdb.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
			return redriven, err
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			_ = q.rdb.LPush(ctx, q.cfg.DeadLetterName, raw).Err()
			continue
		}

		env.ReceiveCount++

		next, err := json.Marshal(env)
		if err != nil {
			continue
		}

		target := q.cfg.QueueName
		if env.ReceiveCount >= q.cfg.MaxReceives {
			target = q.cfg.DeadLetterName
			q.log.Warn("queue.dead_lettered",
				"event_id", env.Message.EventID,
				"receive_count", env.ReceiveCount,
			)
		}

		if err := q.rdb.LPush(ctx, target, next).Err(); err != nil {
			return redriven, err
		}
		redriven++
	}

	return redriven, nil
}
