package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/inference-queue/internal/api/domain"
	"github.com/cuongbtq/inference-queue/internal/api/dto"
	"github.com/cuongbtq/inference-queue/internal/api/storage"
	"github.com/gin-gonic/gin"
)

// ListFailures handles GET {prefix}/inference/failures
// Lists jobs whose retries were exhausted, newest first
func (h *InferenceHandler) ListFailures(c *gin.Context) {
	h.logger.Info("ListFailures called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	if h.failures == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "failure ledger is not configured"})
		return
	}

	var req dto.ListFailuresRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = domain.DefaultPageSize
	}

	if req.PageSize > domain.MaxPageSize {
		req.PageSize = domain.MaxPageSize
	}

	cursor, err := DecodeFailureCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	failures, err := h.failures.ListFailures(c.Request.Context(), storage.FailureFilter{
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list failures", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list failures"})
		return
	}

	hasMore := len(failures) > req.PageSize
	if hasMore {
		failures = failures[:req.PageSize]
	}

	resp := dto.ListFailuresResponse{
		Failures: make([]dto.FailedJobDTO, len(failures)),
	}
	for i, f := range failures {
		resp.Failures[i] = dto.FailedJobDTO{
			RequestID:   f.RequestID,
			RetryCount:  f.RetryCount,
			Reason:      f.Reason,
			PayloadSize: f.PayloadSize,
			ContentType: f.ContentType,
			FailedAt:    f.FailedAt.Format(time.RFC3339),
		}
	}

	if hasMore {
		last := failures[len(failures)-1]
		resp.NextCursor = EncodeFailureCursor(&storage.FailureCursor{
			FailedAt:  last.FailedAt,
			RequestID: last.RequestID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
