package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmissionQueue hands items back to the document pipeline through Redis: a
// ready list the pipeline workers pop from, guarded by a pending set so the
// same item cannot sit in the queue twice. Re-submission is therefore safe to
// invoke more than once.
type SubmissionQueue struct {
	client     *redis.Client
	readyKey   string
	pendingKey string
}

// NewSubmissionQueue builds a queue client.
func NewSubmissionQueue(client *redis.Client) *SubmissionQueue {
	return &SubmissionQueue{
		client:     client,
		readyKey:   "pipeline:ready",
		pendingKey: "pipeline:pending",
	}
}

// Submit enqueues an item unless it is already pending. It reports whether
// the item was actually enqueued.
func (q *SubmissionQueue) Submit(ctx context.Context, key string) (bool, error) {
	res, err := submitScript.Run(ctx, q.client, []string{q.pendingKey, q.readyKey}, key).Result()
	if err != nil {
		return false, fmt.Errorf("submit %q: %w", key, err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected type from submit script: %T", res)
	}
	return n == 1, nil
}

// Dequeue pops the next item for a pipeline worker, clearing its pending
// marker. Empty string means the queue is empty.
func (q *SubmissionQueue) Dequeue(ctx context.Context) (string, error) {
	key, err := q.client.LPop(ctx, q.readyKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	if err := q.client.SRem(ctx, q.pendingKey, key).Err(); err != nil {
		return "", fmt.Errorf("clear pending %q: %w", key, err)
	}
	return key, nil
}

// Ack clears the pending marker without dequeuing, for pipelines that track
// their own intake.
func (q *SubmissionQueue) Ack(ctx context.Context, key string) error {
	if err := q.client.SRem(ctx, q.pendingKey, key).Err(); err != nil {
		return fmt.Errorf("ack %q: %w", key, err)
	}
	return nil
}

// Depth returns the current ready-list length.
func (q *SubmissionQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Ping verifies connectivity at startup.
func (q *SubmissionQueue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return q.client.Ping(ctx).Err()
}

var submitScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)
