package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/cuongbtq/inference-queue/internal/api/domain"
	"github.com/cuongbtq/inference-queue/internal/api/dto"
	"github.com/cuongbtq/inference-queue/internal/api/service"
	"github.com/gin-gonic/gin"
)

// SubmitRequest handles POST {prefix}/inference/requests
// Accepts a multipart "image" part or a raw image body and queues it for classification
func (h *InferenceHandler) SubmitRequest(c *gin.Context) {
	h.logger.Info("SubmitRequest called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int64("content_length", c.Request.ContentLength),
	)

	payload, contentType, err := h.readImage(c)
	if err != nil {
		h.logger.Warn("Rejected upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: uploadErrorMessage(err)})
		return
	}

	sub, err := h.producer.Submit(c.Request.Context(), payload, contentType)
	if err != nil {
		h.logger.Error("Failed to submit request", slog.String("error", err.Error()))

		if errors.Is(err, service.ErrDelivery) {
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "failed to enqueue request"})
			return
		}

		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to submit request"})
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{
		Status:    string(sub.Status),
		RequestID: sub.RequestID,
	})
}

// GetResult handles GET {prefix}/inference/requests/:request_id/result
func (h *InferenceHandler) GetResult(c *gin.Context) {
	requestID := c.Param("request_id")

	h.logger.Debug("GetResult called",
		slog.String("path", c.Request.URL.Path),
		slog.String("request_id", requestID),
	)

	result, err := h.resolver.Resolve(c.Request.Context(), requestID)
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "request not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to resolve request",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get result"})
		return
	}

	c.JSON(http.StatusOK, dto.ResultResponse{
		Status:         string(result.Status),
		InferenceClass: result.Label,
	})
}

// readImage extracts the image bytes and their media type from the request
func (h *InferenceHandler) readImage(c *gin.Context) ([]byte, string, error) {
	if c.Request.ContentLength > h.maxUploadSize {
		return nil, "", domain.ErrPayloadTooLarge
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	var (
		data        []byte
		contentType string
		err         error
	)

	if c.ContentType() == "multipart/form-data" {
		data, contentType, err = readFormFile(c)
	} else {
		contentType = c.ContentType()
		data, err = io.ReadAll(c.Request.Body)
	}

	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", domain.ErrPayloadTooLarge
		}
		return nil, "", err
	}

	if int64(len(data)) > h.maxUploadSize {
		return nil, "", domain.ErrPayloadTooLarge
	}

	if len(data) == 0 {
		return nil, "", domain.ErrEmptyPayload
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}

	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", domain.ErrInvalidContentType
	}

	return data, contentType, nil
}

func readFormFile(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile(domain.ImageFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", err
		}
		return nil, "", domain.ErrMissingImage
	}

	f, err := header.Open()
	if err != nil {
		return nil, "", domain.ErrMissingImage
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	return data, contentType, nil
}

func uploadErrorMessage(err error) string {
	for _, known := range []error{
		domain.ErrMissingImage,
		domain.ErrEmptyPayload,
		domain.ErrInvalidContentType,
		domain.ErrPayloadTooLarge,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "invalid upload"
}
