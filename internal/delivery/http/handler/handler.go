package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/replay-service/internal/delivery/http/request"
	"github.com/user/replay-service/internal/delivery/http/response"
	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/usecase"
)

// Replayer serves the replay requests under one collection's prefix.
type Replayer interface {
	Name() string
	Handle(ctx context.Context, r *http.Request) (*entity.Response, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	collections   []Replayer
	ingestManager usecase.IngestManager
	healthChecks  map[string]HealthCheck
	logger        *zap.Logger
}

// NewHandler wires the HTTP handlers. ingestManager may be nil when
// background ingestion is disabled.
func NewHandler(collections []Replayer, ingestManager usecase.IngestManager, healthChecks map[string]HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		collections:   collections,
		ingestManager: ingestManager,
		healthChecks:  healthChecks,
		logger:        logger,
	}
}

// HandleReplay offers the request to each collection in turn.
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	for _, coll := range h.collections {
		resp, err := coll.Handle(r.Context(), r)
		if errors.Is(err, usecase.ErrNotHandled) {
			continue
		}
		if err != nil {
			h.logger.Error("replay failed",
				zap.String("collection", coll.Name()),
				zap.String("uri", r.RequestURI),
				zap.Error(err))
			h.writeHTMLError(w, http.StatusInternalServerError, "An error occurred while serving this capture.")
			return
		}
		if err := resp.Write(w); err != nil {
			h.logger.Warn("failed to write replay response", zap.String("uri", r.RequestURI), zap.Error(err))
		}
		return
	}

	h.writeHTMLError(w, http.StatusNotFound, "No collection serves "+r.URL.Path)
}

func (h *Handler) HandleSubmitIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingestManager == nil {
		h.writeJSONError(w, "Ingestion is disabled", http.StatusServiceUnavailable)
		return
	}

	var req request.SubmitIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		h.writeJSONError(w, "source is required", http.StatusBadRequest)
		return
	}
	if req.Collection == "" {
		req.Collection = h.defaultCollection()
	}

	jobID, err := h.ingestManager.Submit(r.Context(), req.Collection, req.Source, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrSourceRecentlyIngested):
			h.writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, usecase.ErrUnknownCollection), errors.Is(err, usecase.ErrInvalidSource):
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("failed to submit source", zap.String("source", req.Source), zap.Error(err))
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.SubmitIngestResponse{
		Status:  "success",
		Message: "Source submitted for ingestion",
		JobID:   jobID,
	})
}

func (h *Handler) HandleGetIngestStatus(w http.ResponseWriter, r *http.Request) {
	if h.ingestManager == nil {
		h.writeJSONError(w, "Ingestion is disabled", http.StatusServiceUnavailable)
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		h.writeJSONError(w, "source query parameter is required", http.StatusBadRequest)
		return
	}
	coll := r.URL.Query().Get("collection")
	if coll == "" {
		coll = h.defaultCollection()
	}

	status, err := h.ingestManager.GetStatus(r.Context(), coll, source)
	if err != nil {
		h.logger.Error("failed to get ingest status", zap.String("source", source), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if status.CurrentStatus == usecase.StatusNotFound {
		h.writeJSONError(w, "Ingest status not found for the given source", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, response.IngestStatusResponse{
		Collection:    status.Collection,
		Source:        status.Source,
		CurrentStatus: status.CurrentStatus,
		UpdatedAt:     status.UpdatedAt,
		FailureReason: status.FailureReason,
	})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"status": "ok"}
	healthy := true
	for name, check := range h.healthChecks {
		if err := check(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			healthy = false
			h.logger.Error("health check failed", zap.String("service", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !healthy {
		healthStatus["status"] = "degraded"
		h.writeJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	h.writeJSON(w, http.StatusOK, healthStatus)
}

func (h *Handler) defaultCollection() string {
	if len(h.collections) == 0 {
		return ""
	}
	return h.collections[0].Name()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeHTMLError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!doctype html><html><body><p>%s</p></body></html>", html.EscapeString(message))
}
