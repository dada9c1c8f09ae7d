package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/middleware"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/internal/service"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

type batchReviewMock struct {
	batch   *models.UploadBatch
	getErr  error
	batches []models.UploadBatch
	total   int
	listErr error
}

func (m *batchReviewMock) GetBatch(ctx context.Context, batchID, companyID string, withItems bool) (*models.UploadBatch, error) {
	return m.batch, m.getErr
}

func (m *batchReviewMock) ListBatches(ctx context.Context, companyID string, filter models.BatchFilter) ([]models.UploadBatch, int, error) {
	return m.batches, m.total, m.listErr
}

type batchProgressMock struct {
	events []dto.ProgressEvent
	err    error
}

func (m *batchProgressMock) Stream(ctx context.Context, batchID, companyID string, emit service.ProgressEmitter) error {
	if m.err != nil {
		return m.err
	}
	for i := range m.events {
		event := service.ProgressEventProgress
		if i == len(m.events)-1 {
			event = service.ProgressEventDone
		}
		if err := emit(event, &m.events[i]); err != nil {
			return nil
		}
	}
	return nil
}

func TestBatchHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &batchReviewMock{
		batches: []models.UploadBatch{{ID: "batch-1", Status: models.BatchStatusCompleted, TotalFiles: 3}},
		total:   1,
	}
	h := NewBatchHandler(mockSvc, &batchProgressMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/batches?offset=0&limit=20", nil)
	c.Set(middleware.ContextUserKey, authedClaims())

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data       []models.UploadBatch `json:"data"`
		Pagination *models.Pagination   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	require.NotNil(t, envelope.Pagination)
	require.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestBatchHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &batchReviewMock{
		batch: &models.UploadBatch{
			ID:     "batch-1",
			Status: models.BatchStatusReviewPending,
			Items:  []models.UploadItem{{ID: "item-1", Status: models.ItemStatusReviewPending}},
		},
	}
	h := NewBatchHandler(mockSvc, &batchProgressMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/batches/batch-1", nil)
	c.Params = gin.Params{{Key: "batchId", Value: "batch-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "item-1")
}

func TestBatchHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &batchReviewMock{getErr: appErrors.NotFoundf("upload batch", "batch-9")}
	h := NewBatchHandler(mockSvc, &batchProgressMock{}, nil)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/batches/batch-9", nil)
	c.Params = gin.Params{{Key: "batchId", Value: "batch-9"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchHandlerProgressStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	progress := &batchProgressMock{
		events: []dto.ProgressEvent{
			{BatchID: "batch-1", Status: "processing", TotalFiles: 2, ProcessedFiles: 1},
			{BatchID: "batch-1", Status: "review_pending", TotalFiles: 2, ProcessedFiles: 2},
		},
	}
	h := NewBatchHandler(&batchReviewMock{}, progress, nil)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/batches/batch-1/progress", nil)
	c.Params = gin.Params{{Key: "batchId", Value: "batch-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Progress(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "event:progress")
	require.Contains(t, body, "event:done")
	require.Contains(t, body, "review_pending")
}

func TestBatchHandlerProgressUnknownBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	progress := &batchProgressMock{err: appErrors.NotFoundf("upload batch", "batch-9")}
	h := NewBatchHandler(&batchReviewMock{}, progress, nil)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/batches/batch-9/progress", nil)
	c.Params = gin.Params{{Key: "batchId", Value: "batch-9"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Progress(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
