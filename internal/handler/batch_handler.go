package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/internal/service"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
	"github.com/bhanu-singh/rcbl-backend/pkg/response"
)

type batchReviewService interface {
	GetBatch(ctx context.Context, batchID, companyID string, withItems bool) (*models.UploadBatch, error)
	ListBatches(ctx context.Context, companyID string, filter models.BatchFilter) ([]models.UploadBatch, int, error)
}

type batchProgressService interface {
	Stream(ctx context.Context, batchID, companyID string, emit service.ProgressEmitter) error
}

type streamMetrics interface {
	StreamOpened()
	StreamClosed()
}

// BatchHandler manages upload batch endpoints, including the SSE progress
// stream.
type BatchHandler struct {
	review   batchReviewService
	progress batchProgressService
	metrics  streamMetrics
}

// NewBatchHandler constructs the handler.
func NewBatchHandler(review batchReviewService, progress batchProgressService, metrics streamMetrics) *BatchHandler {
	return &BatchHandler{review: review, progress: progress, metrics: metrics}
}

// List godoc
// @Summary List upload batches
// @Tags Invoices
// @Produce json
// @Param offset query int false "Pagination offset"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /invoices/upload/batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	batches, total, err := h.review.ListBatches(c.Request.Context(), claims.CompanyID, models.BatchFilter{
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, batches, &models.Pagination{
		Offset:     offset,
		Limit:      limit,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get batch detail with all items
// @Tags Invoices
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /invoices/upload/batches/{batchId} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	batch, err := h.review.GetBatch(c.Request.Context(), c.Param("batchId"), claims.CompanyID, true)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, batch, nil)
}

// Progress godoc
// @Summary Stream batch processing progress via Server-Sent Events
// @Tags Invoices
// @Produce text/event-stream
// @Param batchId path string true "Batch ID"
// @Success 200 {string} string "SSE stream of progress, done and timeout events"
// @Failure 404 {object} response.Envelope
// @Router /invoices/upload/batches/{batchId}/progress [get]
func (h *BatchHandler) Progress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Disable proxy buffering so events reach the client as they happen.
	c.Header("X-Accel-Buffering", "no")

	if h.metrics != nil {
		h.metrics.StreamOpened()
		defer h.metrics.StreamClosed()
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	err := h.progress.Stream(c.Request.Context(), c.Param("batchId"), claims.CompanyID,
		func(event string, payload *dto.ProgressEvent) error {
			c.SSEvent(event, payload)
			if canFlush {
				flusher.Flush()
			}
			return c.Err()
		})
	if err != nil {
		// Stream setup failures (e.g. unknown batch) happen before any event
		// went out, so a regular error response is still possible.
		response.Error(c, err)
	}
}
