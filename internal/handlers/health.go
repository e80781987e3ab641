package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bobmcallan/llm-proxy/internal/common"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	logger    *common.Logger
	storeName string
	store     Pinger
}

// NewHealthHandler creates a new health handler. store may be nil when
// counters are kept in process.
func NewHealthHandler(logger *common.Logger, storeName string, store Pinger) *HealthHandler {
	return &HealthHandler{logger: logger, storeName: storeName, store: store}
}

// ServeHTTP handles GET /api/health. An unreachable shared store is
// reported as degraded, not down: rate limiting falls back to local counters.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	body := map[string]string{
		"status":           "ok",
		"rate_limit_store": h.storeName,
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			if h.logger != nil {
				h.logger.Warn().Err(err).Str("store", h.storeName).Msg("Rate limit store unreachable")
			}
			body["status"] = "degraded"
			body["rate_limit_store"] = h.storeName + " (local fallback)"
		}
	}

	WriteJSON(w, http.StatusOK, body)
}
