package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/usecase"
)

type fakeReplayer struct {
	name   string
	prefix string
	err    error
	calls  int
}

func (f *fakeReplayer) Name() string { return f.name }

func (f *fakeReplayer) Handle(_ context.Context, r *http.Request) (*entity.Response, error) {
	f.calls++
	if !strings.HasPrefix(r.URL.Path, f.prefix) {
		return nil, usecase.ErrNotHandled
	}
	if f.err != nil {
		return nil, f.err
	}
	return entity.NewHTMLResponse(http.StatusOK, "from "+f.name, nil), nil
}

type fakeIngestManager struct {
	submitErr  error
	status     *entity.IngestStatus
	lastColl   string
	lastSource string
	lastForce  bool
}

func (f *fakeIngestManager) Submit(_ context.Context, coll, source string, force bool) (string, error) {
	f.lastColl, f.lastSource, f.lastForce = coll, source, force
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeIngestManager) GetStatus(_ context.Context, coll, source string) (*entity.IngestStatus, error) {
	f.lastColl, f.lastSource = coll, source
	return f.status, nil
}

func TestHandleReplayDispatchesToOwningCollection(t *testing.T) {
	a := &fakeReplayer{name: "a", prefix: "/w/a/"}
	b := &fakeReplayer{name: "b", prefix: "/w/b/"}
	h := NewHandler([]Replayer{a, b}, nil, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.HandleReplay(rec, httptest.NewRequest(http.MethodGet, "/w/b/2020mp_/https://example.com/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from b", rec.Body.String())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestHandleReplayErrors(t *testing.T) {
	failing := &fakeReplayer{name: "a", prefix: "/w/a/", err: errors.New("db down <script>")}
	h := NewHandler([]Replayer{failing}, nil, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.HandleReplay(rec, httptest.NewRequest(http.MethodGet, "/w/a/2020mp_/https://example.com/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotContains(t, rec.Body.String(), "db down")

	rec = httptest.NewRecorder()
	h.HandleReplay(rec, httptest.NewRequest(http.MethodGet, "/w/other/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSubmitIngest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantColl   string
	}{
		{"accepted with default collection", `{"source": "/data/a.warc.gz"}`, nil, http.StatusAccepted, "main"},
		{"explicit collection", `{"collection": "other", "source": "/data/a.warc.gz", "force": true}`, nil, http.StatusAccepted, "other"},
		{"recently ingested", `{"source": "/data/a.warc.gz"}`, usecase.ErrSourceRecentlyIngested, http.StatusConflict, "main"},
		{"unknown collection", `{"collection": "x", "source": "a"}`, usecase.ErrUnknownCollection, http.StatusBadRequest, "x"},
		{"rejected source", `{"source": "/etc/passwd"}`, usecase.ErrInvalidSource, http.StatusBadRequest, "main"},
		{"store failure", `{"source": "a"}`, errors.New("redis down"), http.StatusInternalServerError, "main"},
		{"missing source", `{"source": "  "}`, nil, http.StatusBadRequest, ""},
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &fakeIngestManager{submitErr: tt.submitErr}
			h := NewHandler([]Replayer{&fakeReplayer{name: "main"}}, mgr, nil, zaptest.NewLogger(t))

			rec := httptest.NewRecorder()
			h.HandleSubmitIngest(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantColl, mgr.lastColl)
			if tt.wantStatus == http.StatusAccepted {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "job-1", resp["job_id"])
			}
		})
	}
}

func TestHandleGetIngestStatus(t *testing.T) {
	mgr := &fakeIngestManager{status: &entity.IngestStatus{
		Collection: "main", Source: "a.warc", CurrentStatus: usecase.StatusCompleted,
	}}
	h := NewHandler([]Replayer{&fakeReplayer{name: "main"}}, mgr, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.HandleGetIngestStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ingest/status?source=a.warc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["current_status"])
	assert.Equal(t, "main", mgr.lastColl)

	mgr.status = &entity.IngestStatus{CurrentStatus: usecase.StatusNotFound}
	rec = httptest.NewRecorder()
	h.HandleGetIngestStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ingest/status?source=b.warc&collection=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "x", mgr.lastColl)

	rec = httptest.NewRecorder()
	h.HandleGetIngestStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ingest/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestDisabled(t *testing.T) {
	h := NewHandler(nil, nil, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.HandleSubmitIngest(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"source":"a"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	checks := map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	}
	h := NewHandler(nil, nil, checks, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"healthy"`)

	checks["redis"] = func(context.Context) error { return errors.New("refused") }
	rec = httptest.NewRecorder()
	h.HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unhealthy"`)
}
