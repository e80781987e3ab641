package handlers

import (
	"context"
	"net/http"

	"github.com/bobmcallan/llm-proxy/internal/common"
	"github.com/bobmcallan/llm-proxy/internal/telemetry"
)

// Snapshotter returns current metric readings.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string][]telemetry.Point, error)
}

// MetricsHandler serves in-process metric readings as JSON.
type MetricsHandler struct {
	logger *common.Logger
	meter  Snapshotter
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(logger *common.Logger, meter Snapshotter) *MetricsHandler {
	return &MetricsHandler{logger: logger, meter: meter}
}

// ServeHTTP handles GET /api/metrics.
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snap, err := h.meter.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to collect metrics")
		WriteError(w, http.StatusInternalServerError, "internal", "failed to collect metrics")
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}
