package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/metrics"
)

// RecordSource is an opened capture file.
type RecordSource interface {
	RecordReader
	io.Closer
}

// SourceOpener opens a capture file by path or URL.
type SourceOpener func(ctx context.Context, source string) (RecordSource, error)

type IngestWorkerConfig struct {
	MaxRetries   int
	PollInterval time.Duration
	Indexer      IndexerOptions
}

// IngestWorker drains the ingest queue into collection stores.
type IngestWorker struct {
	queueRepo repository.QueueRepository
	stateRepo repository.IngestStateRepository
	writers   map[string]repository.ArchiveWriter
	open      SourceOpener
	cfg       IngestWorkerConfig
	logger    *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

func NewIngestWorker(
	queueRepo repository.QueueRepository,
	stateRepo repository.IngestStateRepository,
	writers map[string]repository.ArchiveWriter,
	open SourceOpener,
	cfg IngestWorkerConfig,
	logger *zap.Logger,
) *IngestWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &IngestWorker{
		queueRepo: queueRepo,
		stateRepo: stateRepo,
		writers:   writers,
		open:      open,
		cfg:       cfg,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches n workers polling the queue until Stop or ctx is done.
func (w *IngestWorker) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight jobs.
func (w *IngestWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *IngestWorker) run(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With(zap.Int("worker", id))

	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logger.Error("ingest job failed", zap.Error(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// ProcessNext ingests one queued source. It reports false when the queue
// was empty.
func (w *IngestWorker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queueRepo.Pop(ctx)
	if errors.Is(err, repository.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to pop ingest job: %w", err)
	}
	metrics.SourcesInQueue.Dec()

	logger := w.logger.With(zap.String("collection", job.Collection), zap.String("source", job.Source))
	logger.Info("processing ingest job")

	if err := w.stateRepo.SetStatus(ctx, job.Collection, job.Source, StatusIngesting, ""); err != nil {
		logger.Warn("failed to record ingesting status", zap.Error(err))
	}

	start := time.Now()
	stats, ingestErr := w.ingest(ctx, job)
	metrics.IngestDuration.WithLabelValues(job.Collection).Observe(time.Since(start).Seconds())

	if ingestErr != nil {
		logger.Warn("ingest failed", zap.Error(ingestErr))
		return true, w.handleFailure(ctx, job, ingestErr)
	}

	logger.Info("ingest completed",
		zap.Int64("resources", stats.Resources),
		zap.Int64("revisits", stats.Revisits),
		zap.Int64("pages", stats.Pages),
		zap.Int64("dropped", stats.Dropped),
		zap.Duration("duration", time.Since(start)))
	return true, w.handleSuccess(ctx, job)
}

func (w *IngestWorker) ingest(ctx context.Context, job *entity.IngestJob) (stats IndexStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("ingest panicked", zap.String("source", job.Source), zap.Any("panic", p))
			err = fmt.Errorf("ingest aborted: %v", p)
		}
	}()

	writer, ok := w.writers[job.Collection]
	if !ok {
		return IndexStats{}, fmt.Errorf("%w: %q", ErrUnknownCollection, job.Collection)
	}

	src, err := w.open(ctx, job.Source)
	if err != nil {
		return IndexStats{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	return IndexRecords(ctx, src, writer, w.cfg.Indexer, w.logger)
}

func (w *IngestWorker) handleSuccess(ctx context.Context, job *entity.IngestJob) error {
	metrics.IngestJobsTotal.WithLabelValues(StatusCompleted).Inc()

	if err := w.stateRepo.SetStatus(ctx, job.Collection, job.Source, StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to record completion of %s: %w", job.Source, err)
	}
	if err := w.stateRepo.ResetRetryCount(ctx, job.Collection, job.Source); err != nil {
		w.logger.Warn("failed to reset retry count", zap.String("source", job.Source), zap.Error(err))
	}
	return nil
}

func (w *IngestWorker) handleFailure(ctx context.Context, job *entity.IngestJob, ingestErr error) error {
	retries, err := w.stateRepo.IncrementRetryCount(ctx, job.Collection, job.Source)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for %s: %w", job.Source, err)
	}

	permanent := errors.Is(ingestErr, ErrUnknownCollection) || errors.Is(ingestErr, ErrInvalidSource)
	if permanent || retries >= int64(w.cfg.MaxRetries) {
		metrics.IngestJobsTotal.WithLabelValues(StatusFailed).Inc()
		w.logger.Error("max retries reached, marking source as failed",
			zap.String("source", job.Source), zap.Int64("attempts", retries))
		if err := w.stateRepo.SetStatus(ctx, job.Collection, job.Source, StatusFailed, ingestErr.Error()); err != nil {
			return fmt.Errorf("failed to record failure of %s: %w", job.Source, err)
		}
		return nil
	}

	metrics.IngestJobsTotal.WithLabelValues("retry").Inc()
	if err := w.stateRepo.SetStatus(ctx, job.Collection, job.Source, StatusPending, ingestErr.Error()); err != nil {
		w.logger.Warn("failed to record pending status", zap.String("source", job.Source), zap.Error(err))
	}
	if err := w.queueRepo.Push(ctx, job); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", job.Source, err)
	}
	metrics.SourcesInQueue.Inc()
	w.logger.Info("source will be retried", zap.String("source", job.Source), zap.Int64("attempt", retries))
	return nil
}
