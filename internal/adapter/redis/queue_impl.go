package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
)

const ingestQueueKey = "replay:ingest:queue"

// QueueRepoImpl implements repository.QueueRepository on a Redis list.
type QueueRepoImpl struct {
	client *redis.Client
}

// NewQueueRepo creates a new instance of QueueRepoImpl.
func NewQueueRepo(client *redis.Client) *QueueRepoImpl {
	return &QueueRepoImpl{client: client}
}

// Push adds a job to the left side of the list.
func (r *QueueRepoImpl) Push(ctx context.Context, job *entity.IngestJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode ingest job: %w", err)
	}
	return r.client.LPush(ctx, ingestQueueKey, data).Err()
}

// Pop removes a job from the right side of the list. An empty list yields
// repository.ErrQueueEmpty.
func (r *QueueRepoImpl) Pop(ctx context.Context) (*entity.IngestJob, error) {
	data, err := r.client.RPop(ctx, ingestQueueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}

	var job entity.IngestJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode ingest job: %w", err)
	}
	return &job, nil
}

// Size returns the current number of items in the queue.
func (r *QueueRepoImpl) Size(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, ingestQueueKey).Result()
}
