package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable trigger list consumed by workers. A popped job
// id stays in a processing list until acknowledged, so ids taken by a
// crashed worker can be recovered.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
}

// NewRedisQueue creates a queue stored under key
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "scrape_jobs"
	}
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
	}
}

// Enqueue pushes a job id for the workers
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job id and moves it to the
// processing list. It returns "" when nothing arrived in time.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	jobID, err := q.client.BRPopLPush(ctx, q.key, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue job: %w", err)
	}
	return jobID, nil
}

// Ack removes a finished job id from the processing list
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, jobID).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// RecoverProcessing moves every id left in the processing list back onto
// the queue. Run it at startup, before any worker dequeues.
func (q *RedisQueue) RecoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover processing jobs: %w", err)
		}
		moved++
	}
}

// Len returns the number of waiting job ids
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
