package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/replay-service/internal/entity"
)

const (
	statusPrefix = "replay:ingest:status:"
	retryPrefix  = "replay:ingest:retry:"

	statusTTL = 7 * 24 * time.Hour
	retryTTL  = 24 * time.Hour
)

// StateRepoImpl implements repository.IngestStateRepository with one hash
// per source and an expiring retry counter.
type StateRepoImpl struct {
	client *redis.Client
}

// NewStateRepo creates a new instance of StateRepoImpl.
func NewStateRepo(client *redis.Client) *StateRepoImpl {
	return &StateRepoImpl{client: client}
}

func (r *StateRepoImpl) SetStatus(ctx context.Context, collection, source, status, reason string) error {
	key := sourceKey(statusPrefix, collection, source)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"collection", collection,
			"source", source,
			"status", status,
			"reason", reason,
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, statusTTL)
		return nil
	})
	return err
}

// GetStatus returns a "not_found" status when nothing was recorded.
func (r *StateRepoImpl) GetStatus(ctx context.Context, collection, source string) (*entity.IngestStatus, error) {
	fields, err := r.client.HGetAll(ctx, sourceKey(statusPrefix, collection, source)).Result()
	if err != nil {
		return nil, err
	}

	status := &entity.IngestStatus{Collection: collection, Source: source, CurrentStatus: "not_found"}
	if len(fields) == 0 {
		return status, nil
	}

	status.CurrentStatus = fields["status"]
	status.FailureReason = fields["reason"]
	if raw := fields["updated_at"]; raw != "" {
		updated, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		status.UpdatedAt = &updated
	}
	return status, nil
}

func (r *StateRepoImpl) IncrementRetryCount(ctx context.Context, collection, source string) (int64, error) {
	key := sourceKey(retryPrefix, collection, source)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Retry counters must not outlive a day.
	if err := r.client.Expire(ctx, key, retryTTL).Err(); err != nil {
		return count, err
	}
	return count, nil
}

func (r *StateRepoImpl) ResetRetryCount(ctx context.Context, collection, source string) error {
	return r.client.Del(ctx, sourceKey(retryPrefix, collection, source)).Err()
}
