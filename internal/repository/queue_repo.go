package repository

import (
	"context"
	"errors"

	"github.com/user/replay-service/internal/entity"
)

// ErrQueueEmpty is returned by Pop when there is nothing to ingest.
var ErrQueueEmpty = errors.New("ingest queue is empty")

// QueueRepository defines the interface for a FIFO queue of capture sources awaiting ingestion.
type QueueRepository interface {
	// Push adds a job to the end of the queue.
	Push(ctx context.Context, job *entity.IngestJob) error
	// Pop removes and returns a job from the front of the queue.
	Pop(ctx context.Context) (*entity.IngestJob, error)
	// Size returns the current number of items in the queue.
	Size(ctx context.Context) (int64, error)
}
