package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/inference-queue/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	logger *slog.Logger
	checks map[string]HealthCheck
}

func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger: deps.Logger,
		checks: deps.Checks,
	}
}

// Live handles GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "OK"})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = "DOWN"
			ready = false
			continue
		}
		results[name] = "UP"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "UNAVAILABLE", Checks: results})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{Status: "OK", Checks: results})
}
