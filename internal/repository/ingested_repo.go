package repository

import (
	"context"
	"time"
)

// IngestedRepository remembers recently submitted sources so the same
// capture file is not ingested twice within the deduplication window.
type IngestedRepository interface {
	// MarkIngested marks a source as seen with a specific expiry time.
	MarkIngested(ctx context.Context, collection, source string, expiry time.Duration) error
	// IsIngested checks if a source has been seen recently.
	IsIngested(ctx context.Context, collection, source string) (bool, error)
	// RemoveIngested forgets a source, used for forced re-ingestion.
	RemoveIngested(ctx context.Context, collection, source string) error
}
