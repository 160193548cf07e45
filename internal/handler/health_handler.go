package handler

import (
	"context"
	"net/http"
	"time"

	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and database health
type HealthHandler struct {
	service string
	db      Pinger
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(service string, db Pinger) *HealthHandler {
	return &HealthHandler{service: service, db: db}
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logger.FromEcho(c).Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "database unreachable",
			Data:    echo.Map{"status": "unhealthy", "service": h.service},
		})
	}
	return respond(c, http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": h.service,
	})
}
