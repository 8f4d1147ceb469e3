package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/photo_downloader/internal/logctx"
)

// MetricsHandler serves the operational endpoints of a running download.
type MetricsHandler struct {
	metrics   http.Handler
	startedAt time.Time
}

// NewMetricsHandler creates a handler exposing metrics (usually the Prometheus
// handler of the telemetry instance) and a liveness probe.
func NewMetricsHandler(metrics http.Handler) *MetricsHandler {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}

	return &MetricsHandler{metrics: metrics, startedAt: time.Now()}
}

func (h *MetricsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", h.metrics)
	r.Get("/healthz", h.HandleHealth)

	return r
}

// HandleHealth reports that the process is alive and for how long it has been.
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode health response", "err", err)
	}
}
