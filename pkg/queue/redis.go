package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves due delayed jobs onto the ready list atomically
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

// RedisQueue is a redis-backed queue with at-least-once delivery. A
// dequeued job is moved onto a processing list and stays there until it is
// acknowledged; Recover returns unacknowledged jobs to the ready list.
type RedisQueue struct {
	client redis.UniversalClient
	ready  string
	active string
	later  string

	// PollInterval bounds how long Dequeue blocks before promoting delayed jobs
	PollInterval time.Duration
}

// NewRedisQueue creates a queue whose keys start with prefix
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	return &RedisQueue{
		client:       client,
		ready:        prefix + ":ready",
		active:       prefix + ":processing",
		later:        prefix + ":delayed",
		PollInterval: time.Second,
	}
}

// Enqueue adds job to the ready list, or to the delayed set when delay > 0
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if delay <= 0 {
		return q.client.LPush(ctx, q.ready, data).Err()
	}
	at := time.Now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, q.later, redis.Z{Score: float64(at), Member: data}).Err()
}

// Dequeue moves the oldest ready job onto the processing list
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := q.promote(ctx); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, q.ready, q.active, "RIGHT", "LEFT", q.PollInterval).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		job := &Job{}
		if err := json.Unmarshal([]byte(raw), job); err != nil {
			// poison message, drop it
			q.client.LRem(ctx, q.active, 1, raw)
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		job.raw = raw
		return job, nil
	}
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.client, []string{q.later, q.ready}, now, 100).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Ack removes job from the processing list
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, q.active, 1, job.raw).Err()
}

// Recover moves every unacknowledged job back to the ready list. It must
// only run while no other consumer is processing jobs.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.active, q.ready, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Pending returns the number of ready, processing and delayed jobs
func (q *RedisQueue) Pending(ctx context.Context) (ready, processing, delayed int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, q.ready)
	p := pipe.LLen(ctx, q.active)
	d := pipe.ZCard(ctx, q.later)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), p.Val(), d.Val(), nil
}

// Close closes the redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
