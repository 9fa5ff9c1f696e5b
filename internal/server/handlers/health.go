package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/gophsync/pkg/api"
)

// HealthChecker reports whether the backend store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	checker HealthChecker
	version string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, checker HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		checker: checker,
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
// Возвращает 503, если хранилище журнала недоступно
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.checker.Health(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		sendJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Version: h.version})
		return
	}

	sendJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Version: h.version})
}
