package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/config"
)

// RetryQueue pushes failed persistence writes onto the Redis retry list.
type RetryQueue struct {
	rdb *redis.Client
}

// NewRetryQueue creates a new RetryQueue.
func NewRetryQueue(rdb *redis.Client) *RetryQueue {
	return &RetryQueue{rdb: rdb}
}

// Enqueue appends a failed write to the retry list as JSON.
func (q *RetryQueue) Enqueue(ctx context.Context, f attempt.FailedWrite) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal failed write: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistRetryQueue, data).Err()
}

// Len returns the number of writes waiting for a retry.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.PersistRetryQueue).Result()
}
