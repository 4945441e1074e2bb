package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/metrics"
	"github.com/user/replay-service/pkg/utils"
)

// Ingest states.
const (
	StatusPending   = "pending"
	StatusIngesting = "ingesting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

var (
	ErrSourceRecentlyIngested = errors.New("source has been ingested recently and force is false")
	ErrUnknownCollection      = errors.New("unknown collection")
	ErrInvalidSource          = errors.New("invalid source")
)

// SourceCheck reports whether a source may be ingested. It must not
// touch the source itself.
type SourceCheck func(source string) error

// IngestManager accepts capture sources for background ingestion.
type IngestManager interface {
	Submit(ctx context.Context, collection, source string, force bool) (string, error)
	GetStatus(ctx context.Context, collection, source string) (*entity.IngestStatus, error)
}

type ingestManager struct {
	ingestedRepo repository.IngestedRepository
	queueRepo    repository.QueueRepository
	stateRepo    repository.IngestStateRepository
	collections  map[string]bool
	dedupWindow  time.Duration
	checkSource  SourceCheck
	logger       *zap.Logger
}

// NewIngestManager creates an IngestManager for the given writable
// collections. A nil checkSource accepts every source.
func NewIngestManager(
	ingestedRepo repository.IngestedRepository,
	queueRepo repository.QueueRepository,
	stateRepo repository.IngestStateRepository,
	collections []string,
	dedupWindow time.Duration,
	checkSource SourceCheck,
	logger *zap.Logger,
) IngestManager {
	known := make(map[string]bool, len(collections))
	for _, name := range collections {
		known[name] = true
	}
	return &ingestManager{
		ingestedRepo: ingestedRepo,
		queueRepo:    queueRepo,
		stateRepo:    stateRepo,
		collections:  known,
		dedupWindow:  dedupWindow,
		checkSource:  checkSource,
		logger:       logger,
	}
}

// Submit queues source and returns its job id.
func (m *ingestManager) Submit(ctx context.Context, collection, source string, force bool) (string, error) {
	if !m.collections[collection] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if m.checkSource != nil {
		if err := m.checkSource(source); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidSource, err)
		}
	}
	jobID := utils.HashURL(collection + "|" + source)

	if force {
		if err := m.ingestedRepo.RemoveIngested(ctx, collection, source); err != nil {
			m.logger.Warn("failed to clear ingested marker for forced ingest", zap.String("source", source), zap.Error(err))
		}
	} else {
		seen, err := m.ingestedRepo.IsIngested(ctx, collection, source)
		if err != nil {
			return "", err
		}
		if seen {
			return jobID, ErrSourceRecentlyIngested
		}
	}

	job := &entity.IngestJob{Collection: collection, Source: source, QueuedAt: time.Now().UTC()}
	if err := m.queueRepo.Push(ctx, job); err != nil {
		return "", fmt.Errorf("queue source: %w", err)
	}
	metrics.SourcesInQueue.Inc()

	if err := m.stateRepo.SetStatus(ctx, collection, source, StatusPending, ""); err != nil {
		m.logger.Warn("failed to record pending status", zap.String("source", source), zap.Error(err))
	}

	if err := m.ingestedRepo.MarkIngested(ctx, collection, source, m.dedupWindow); err != nil {
		// The job is queued; a duplicate submission may slip through.
		m.logger.Error("failed to mark source as ingested after queueing", zap.String("source", source), zap.Error(err))
	}

	return jobID, nil
}

func (m *ingestManager) GetStatus(ctx context.Context, collection, source string) (*entity.IngestStatus, error) {
	status, err := m.stateRepo.GetStatus(ctx, collection, source)
	if err != nil {
		return nil, err
	}
	if status.CurrentStatus != StatusNotFound {
		return status, nil
	}

	// Submitted before status tracking was recorded.
	seen, err := m.ingestedRepo.IsIngested(ctx, collection, source)
	if err != nil {
		return nil, err
	}
	if seen {
		status.CurrentStatus = StatusPending
	}
	return status, nil
}
