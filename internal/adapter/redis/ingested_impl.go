package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/replay-service/pkg/utils"
)

const ingestedPrefix = "replay:ingested:"

// IngestedRepoImpl implements repository.IngestedRepository with expiring keys.
type IngestedRepoImpl struct {
	client *redis.Client
}

// NewIngestedRepo creates a new instance of IngestedRepoImpl.
func NewIngestedRepo(client *redis.Client) *IngestedRepoImpl {
	return &IngestedRepoImpl{client: client}
}

// sourceKey hashes the collection and source into a fixed-size key.
func sourceKey(prefix, collection, source string) string {
	return prefix + utils.HashURL(collection+"|"+source)
}

// MarkIngested sets the source's key with an expiry.
func (r *IngestedRepoImpl) MarkIngested(ctx context.Context, collection, source string, expiry time.Duration) error {
	return r.client.SetEx(ctx, sourceKey(ingestedPrefix, collection, source), "1", expiry).Err()
}

// IsIngested checks for the source's key.
func (r *IngestedRepoImpl) IsIngested(ctx context.Context, collection, source string) (bool, error) {
	n, err := r.client.Exists(ctx, sourceKey(ingestedPrefix, collection, source)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveIngested deletes the source's key, used for forced re-ingestion.
func (r *IngestedRepoImpl) RemoveIngested(ctx context.Context, collection, source string) error {
	return r.client.Del(ctx, sourceKey(ingestedPrefix, collection, source)).Err()
}
