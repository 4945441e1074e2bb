package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/delivery/http/handler"
	"github.com/user/replay-service/internal/delivery/http/middleware"
)

// New builds the service router. Replay requests are served under
// replayPrefix, or at the root when replayPrefix is "/".
func New(h *handler.Handler, replayPrefix string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", h.HandleHealthCheck)

	r.Route("/api/ingest", func(r chi.Router) {
		r.Post("/", h.HandleSubmitIngest)
		r.Get("/status", h.HandleGetIngestStatus)
	})

	prefix := "/" + strings.Trim(replayPrefix, "/")
	if prefix == "/" {
		r.NotFound(h.HandleReplay)
		r.MethodNotAllowed(h.HandleReplay)
	} else {
		r.HandleFunc(prefix+"/*", h.HandleReplay)
	}

	return r
}
