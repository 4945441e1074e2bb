package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
)

type memQueue struct {
	mu   sync.Mutex
	jobs []*entity.IngestJob
}

func (q *memQueue) Push(_ context.Context, job *entity.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Pop(context.Context) (*entity.IngestJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, repository.ErrQueueEmpty
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *memQueue) Size(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

type memIngested struct {
	mu   sync.Mutex
	seen map[string]time.Duration
}

func newMemIngested() *memIngested { return &memIngested{seen: map[string]time.Duration{}} }

func (m *memIngested) MarkIngested(_ context.Context, coll, source string, expiry time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[coll+"|"+source] = expiry
	return nil
}

func (m *memIngested) IsIngested(_ context.Context, coll, source string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[coll+"|"+source]
	return ok, nil
}

func (m *memIngested) RemoveIngested(_ context.Context, coll, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, coll+"|"+source)
	return nil
}

type memState struct {
	mu       sync.Mutex
	statuses map[string]*entity.IngestStatus
	retries  map[string]int64
}

func newMemState() *memState {
	return &memState{statuses: map[string]*entity.IngestStatus{}, retries: map[string]int64{}}
}

func (s *memState) SetStatus(_ context.Context, coll, source, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.statuses[coll+"|"+source] = &entity.IngestStatus{
		Collection: coll, Source: source, CurrentStatus: status, UpdatedAt: &now, FailureReason: reason,
	}
	return nil
}

func (s *memState) GetStatus(_ context.Context, coll, source string) (*entity.IngestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[coll+"|"+source]; ok {
		cp := *st
		return &cp, nil
	}
	return &entity.IngestStatus{Collection: coll, Source: source, CurrentStatus: StatusNotFound}, nil
}

func (s *memState) IncrementRetryCount(_ context.Context, coll, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[coll+"|"+source]++
	return s.retries[coll+"|"+source], nil
}

func (s *memState) ResetRetryCount(_ context.Context, coll, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, coll+"|"+source)
	return nil
}

type closingReader struct {
	sliceReader
	closed bool
}

func (c *closingReader) Close() error {
	c.closed = true
	return nil
}

func TestIngestManagerSubmit(t *testing.T) {
	queue, ingested, state := &memQueue{}, newMemIngested(), newMemState()
	mgr := NewIngestManager(ingested, queue, state, []string{"coll"}, 48*time.Hour, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	id, err := mgr.Submit(ctx, "coll", "/data/a.warc.gz", false)
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Len(t, queue.jobs, 1)
	assert.Equal(t, 48*time.Hour, ingested.seen["coll|/data/a.warc.gz"])

	status, err := mgr.GetStatus(ctx, "coll", "/data/a.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.CurrentStatus)

	again, err := mgr.Submit(ctx, "coll", "/data/a.warc.gz", false)
	assert.ErrorIs(t, err, ErrSourceRecentlyIngested)
	assert.Equal(t, id, again)
	assert.Len(t, queue.jobs, 1)

	_, err = mgr.Submit(ctx, "coll", "/data/a.warc.gz", true)
	require.NoError(t, err)
	assert.Len(t, queue.jobs, 2)

	_, err = mgr.Submit(ctx, "nope", "/data/a.warc.gz", false)
	assert.ErrorIs(t, err, ErrUnknownCollection)

	status, err = mgr.GetStatus(ctx, "coll", "/data/other.warc")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status.CurrentStatus)
}

func TestIngestManagerRejectsSource(t *testing.T) {
	queue, ingested, state := &memQueue{}, newMemIngested(), newMemState()
	outside := errors.New("outside the ingest root")
	check := func(source string) error {
		if strings.HasPrefix(source, "/data/") {
			return nil
		}
		return outside
	}
	mgr := NewIngestManager(ingested, queue, state, []string{"coll"}, time.Hour, check, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := mgr.Submit(ctx, "coll", "/etc/passwd", false)
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.ErrorIs(t, err, outside)
	assert.Empty(t, queue.jobs)
	assert.Empty(t, ingested.seen)

	_, err = mgr.Submit(ctx, "coll", "/data/a.warc", false)
	require.NoError(t, err)
	assert.Len(t, queue.jobs, 1)
}

func TestIngestWorkerProcessNext(t *testing.T) {
	queue, state, store := &memQueue{}, newMemState(), newMemArchive()
	src := &closingReader{sliceReader: sliceReader{records: []*entity.Record{
		requestRecord("https://example.com/", http.MethodGet, nil),
		responseRecord("https://example.com/", http.StatusOK, htmlHeaders(), "<html></html>"),
	}}}
	opened := ""
	open := func(_ context.Context, source string) (RecordSource, error) {
		opened = source
		return src, nil
	}

	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{"coll": store}, open,
		IngestWorkerConfig{MaxRetries: 3}, zaptest.NewLogger(t))

	processed, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, queue.Push(context.Background(), &entity.IngestJob{Collection: "coll", Source: "a.warc"}))
	processed, err = w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, "a.warc", opened)
	assert.True(t, src.closed)
	assert.Len(t, store.resources, 1)
	assert.Len(t, store.pages, 1)
	st, _ := state.GetStatus(context.Background(), "coll", "a.warc")
	assert.Equal(t, StatusCompleted, st.CurrentStatus)
}

func TestIngestWorkerRetriesThenFails(t *testing.T) {
	queue, state := &memQueue{}, newMemState()
	open := func(context.Context, string) (RecordSource, error) {
		return nil, errors.New("connection refused")
	}
	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{"coll": newMemArchive()}, open,
		IngestWorkerConfig{MaxRetries: 2}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, &entity.IngestJob{Collection: "coll", Source: "http://host/a.warc"}))

	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	st, _ := state.GetStatus(ctx, "coll", "http://host/a.warc")
	assert.Equal(t, StatusPending, st.CurrentStatus)
	assert.Contains(t, st.FailureReason, "connection refused")
	require.Len(t, queue.jobs, 1, "job is requeued")

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	st, _ = state.GetStatus(ctx, "coll", "http://host/a.warc")
	assert.Equal(t, StatusFailed, st.CurrentStatus)
	assert.Empty(t, queue.jobs)
}

func TestIngestWorkerUnknownCollectionFailsImmediately(t *testing.T) {
	queue, state := &memQueue{}, newMemState()
	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{}, nil,
		IngestWorkerConfig{MaxRetries: 5}, zaptest.NewLogger(t))

	require.NoError(t, queue.Push(context.Background(), &entity.IngestJob{Collection: "gone", Source: "a.warc"}))
	_, err := w.ProcessNext(context.Background())
	require.NoError(t, err)

	st, _ := state.GetStatus(context.Background(), "gone", "a.warc")
	assert.Equal(t, StatusFailed, st.CurrentStatus)
	assert.Empty(t, queue.jobs)
}

func TestIngestWorkerInvalidSourceFailsImmediately(t *testing.T) {
	queue, state := &memQueue{}, newMemState()
	open := func(context.Context, string) (RecordSource, error) {
		return nil, fmt.Errorf("%w: outside the ingest root", ErrInvalidSource)
	}
	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{"coll": newMemArchive()}, open,
		IngestWorkerConfig{MaxRetries: 5}, zaptest.NewLogger(t))

	require.NoError(t, queue.Push(context.Background(), &entity.IngestJob{Collection: "coll", Source: "/etc/passwd"}))
	_, err := w.ProcessNext(context.Background())
	require.NoError(t, err)

	st, _ := state.GetStatus(context.Background(), "coll", "/etc/passwd")
	assert.Equal(t, StatusFailed, st.CurrentStatus)
	assert.Empty(t, queue.jobs)
}

type panickingReader struct{}

func (panickingReader) Next() (*entity.Record, error) { panic("bad block") }
func (panickingReader) Close() error                  { return nil }

func TestIngestWorkerRecoversFromPanic(t *testing.T) {
	queue, state := &memQueue{}, newMemState()
	open := func(context.Context, string) (RecordSource, error) { return panickingReader{}, nil }
	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{"coll": newMemArchive()}, open,
		IngestWorkerConfig{MaxRetries: 1}, zaptest.NewLogger(t))

	require.NoError(t, queue.Push(context.Background(), &entity.IngestJob{Collection: "coll", Source: "a.warc"}))
	require.NotPanics(t, func() {
		_, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
	})

	st, _ := state.GetStatus(context.Background(), "coll", "a.warc")
	assert.Equal(t, StatusFailed, st.CurrentStatus)
	assert.Contains(t, st.FailureReason, "bad block")
}

func TestIngestWorkerStartStop(t *testing.T) {
	queue, state, store := &memQueue{}, newMemState(), newMemArchive()
	open := func(context.Context, string) (RecordSource, error) {
		return &closingReader{sliceReader: sliceReader{records: []*entity.Record{
			responseRecord("https://example.com/", http.StatusOK, nil, "x"),
		}}}, nil
	}
	w := NewIngestWorker(queue, state, map[string]repository.ArchiveWriter{"coll": store}, open,
		IngestWorkerConfig{MaxRetries: 1, PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))

	for _, src := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Push(context.Background(), &entity.IngestJob{Collection: "coll", Source: src}))
	}

	w.Start(context.Background(), 2)
	require.Eventually(t, func() bool {
		n, _ := queue.Size(context.Background())
		if n != 0 {
			return false
		}
		for _, src := range []string{"a", "b", "c"} {
			st, _ := state.GetStatus(context.Background(), "coll", src)
			if st.CurrentStatus != StatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.resources, 3)
}
