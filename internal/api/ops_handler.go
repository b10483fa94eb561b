package api

import (
	"net/http"

	"github.com/phrazzld/dispatch/internal/api/shared"
	"github.com/phrazzld/dispatch/internal/observability"
)

// OpsHandler serves the health and metrics endpoints.
type OpsHandler struct {
	metrics *observability.Registry
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(metrics *observability.Registry) *OpsHandler {
	return &OpsHandler{metrics: metrics}
}

// Health handles GET /healthz.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics handles GET /metrics in Prometheus text exposition format.
func (h *OpsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(h.metrics.RenderPrometheus()))
}
