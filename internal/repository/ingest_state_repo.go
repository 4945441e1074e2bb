package repository

import (
	"context"

	"github.com/user/replay-service/internal/entity"
)

// IngestStateRepository tracks per-source ingest status and retry counts.
type IngestStateRepository interface {
	SetStatus(ctx context.Context, collection, source, status, reason string) error
	// GetStatus returns a "not_found" status for unknown sources.
	GetStatus(ctx context.Context, collection, source string) (*entity.IngestStatus, error)
	IncrementRetryCount(ctx context.Context, collection, source string) (int64, error)
	ResetRetryCount(ctx context.Context, collection, source string) error
}
