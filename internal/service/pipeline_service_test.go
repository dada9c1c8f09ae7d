package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/extraction"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	"github.com/bhanu-singh/rcbl-backend/pkg/jobs"
)

type pipelineItemStub struct {
	items      map[string]*models.UploadItem
	stuck      []models.UploadItem
	resultData models.OCRData
	lastStatus models.ItemStatus
	lastMS     int
	lastConf   decimal.Decimal
	failReason string
	successes  int
	failures   int

	// decideOnClaim flips the item to this status right before the claim,
	// simulating a user decision racing the worker.
	decideOnClaim models.ItemStatus
	// completeErr fails the next CompleteExtraction once, like a dropped
	// connection mid-transaction.
	completeErr error
}

func (m *pipelineItemStub) GetByID(ctx context.Context, id string) (*models.UploadItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *item
	return &copy, nil
}

func (m *pipelineItemStub) MarkProcessing(ctx context.Context, id string) error {
	item := m.items[id]
	if m.decideOnClaim != "" {
		item.Status = m.decideOnClaim
	}
	if item.Status != models.ItemStatusQueued && item.Status != models.ItemStatusProcessing {
		return sql.ErrNoRows
	}
	item.Status = models.ItemStatusProcessing
	return nil
}

func (m *pipelineItemStub) CompleteExtraction(ctx context.Context, id, batchID string, data models.OCRData, confidence decimal.Decimal, processingMS int, status models.ItemStatus) (*models.UploadBatch, error) {
	if m.completeErr != nil {
		err := m.completeErr
		m.completeErr = nil
		return nil, err
	}
	item := m.items[id]
	if item.Status != models.ItemStatusProcessing {
		return nil, sql.ErrNoRows
	}
	m.resultData = data
	m.lastConf = confidence
	m.lastMS = processingMS
	m.lastStatus = status
	item.Status = status
	m.successes++
	return &models.UploadBatch{ID: batchID, Status: models.BatchStatusProcessing}, nil
}

func (m *pipelineItemStub) FailExtraction(ctx context.Context, id, batchID, errorMessage string) (*models.UploadBatch, error) {
	item := m.items[id]
	if item.Status != models.ItemStatusQueued && item.Status != models.ItemStatusProcessing {
		return nil, sql.ErrNoRows
	}
	m.failReason = errorMessage
	m.lastStatus = models.ItemStatusFailed
	item.Status = models.ItemStatusFailed
	m.failures++
	return &models.UploadBatch{ID: batchID, Status: models.BatchStatusProcessing}, nil
}

func (m *pipelineItemStub) ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadItem, error) {
	return m.stuck, nil
}

type providerStub struct {
	result *extraction.Result
	err    error
	calls  int
}

func (m *providerStub) Extract(ctx context.Context, document []byte, contentType string) (*extraction.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type metricsStub struct {
	outcomes []string
}

func (m *metricsStub) RecordExtraction(outcome string, duration time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

func queuedItemStub() *pipelineItemStub {
	return &pipelineItemStub{items: map[string]*models.UploadItem{
		"item-1": {ID: "item-1", BatchID: "batch-1", FileKey: "invoices/c/b/i/a.pdf", FileName: "a.pdf", Status: models.ItemStatusQueued},
	}}
}

func pipelineFixture(result *extraction.Result) (*PipelineService, *pipelineItemStub, *metricsStub) {
	items := queuedItemStub()
	metrics := &metricsStub{}
	store := &stubObjectStore{objects: map[string][]byte{"invoices/c/b/i/a.pdf": []byte("pdf-bytes")}}
	svc := NewPipelineService(items, store, &providerStub{result: result}, metrics, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85, RequeueAfter: 10 * time.Minute}, zap.NewNop())
	return svc, items, metrics
}

func confidentResult(confidence string) *extraction.Result {
	number := "INV-1001"
	return &extraction.Result{
		Fields:       models.OCRData{InvoiceNumber: &number},
		Confidence:   decimal.RequireFromString(confidence),
		ProcessingMS: 1500,
	}
}

func TestPipelineHighConfidenceBecomesReady(t *testing.T) {
	svc, items, metrics := pipelineFixture(confidentResult("0.96"))

	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, models.ItemStatusReady, items.lastStatus)
	assert.Equal(t, "0.96", items.lastConf.String())
	assert.Equal(t, 1500, items.lastMS)
	assert.Equal(t, 1, items.successes)
	assert.Zero(t, items.failures)
	assert.Equal(t, []string{"ready"}, metrics.outcomes)
}

func TestPipelineLowConfidenceNeedsReview(t *testing.T) {
	svc, items, metrics := pipelineFixture(confidentResult("0.40"))

	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, models.ItemStatusReviewPending, items.lastStatus)
	// A low-confidence extraction still counts as processed successfully.
	assert.Equal(t, 1, items.successes)
	assert.Equal(t, []string{"review_pending"}, metrics.outcomes)
}

func TestPipelineThresholdBoundaryIsReady(t *testing.T) {
	svc, items, _ := pipelineFixture(confidentResult("0.85"))

	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, models.ItemStatusReady, items.lastStatus)
}

func TestPipelineDegradedResultNeedsReview(t *testing.T) {
	svc, items, _ := pipelineFixture(extraction.DegradedResult("provider unavailable", 900))

	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, models.ItemStatusReviewPending, items.lastStatus)
	assert.True(t, items.lastConf.IsZero())
	assert.Equal(t, 900, items.lastMS)
	assert.Equal(t, 1, items.successes)
}

func TestPipelineMissingItemIsDropped(t *testing.T) {
	svc, items, _ := pipelineFixture(confidentResult("0.96"))

	require.NoError(t, svc.ProcessItem(context.Background(), "ghost", 0))
	assert.Zero(t, items.successes)
	assert.Zero(t, items.failures)
}

func TestPipelineSkipsRedelivery(t *testing.T) {
	svc, items, _ := pipelineFixture(confidentResult("0.96"))
	items.items["item-1"].Status = models.ItemStatusAccepted

	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Zero(t, items.successes)
	assert.Equal(t, models.ItemStatusAccepted, items.items["item-1"].Status)
}

func TestPipelineRejectWinningTheClaimDropsJob(t *testing.T) {
	items := queuedItemStub()
	items.decideOnClaim = models.ItemStatusRejected
	store := &stubObjectStore{objects: map[string][]byte{"invoices/c/b/i/a.pdf": []byte("pdf-bytes")}}
	provider := &providerStub{result: confidentResult("0.96")}
	svc := NewPipelineService(items, store, provider, nil, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85}, zap.NewNop())

	// A user rejected the item between enqueue and pickup. The conditional
	// claim loses, the job is dropped and the rejection stands.
	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Zero(t, provider.calls)
	assert.Zero(t, items.successes)
	assert.Zero(t, items.failures)
	assert.Equal(t, models.ItemStatusRejected, items.items["item-1"].Status)
}

func TestPipelineCounterWriteFailureIsRetried(t *testing.T) {
	svc, items, metrics := pipelineFixture(confidentResult("0.96"))
	items.completeErr = errors.New("connection reset mid-transaction")

	// The failed transaction persists nothing, so the attempt errors and the
	// item stays claimable.
	err := svc.ProcessItem(context.Background(), "item-1", 0)
	require.Error(t, err)
	assert.Zero(t, items.successes)
	assert.Zero(t, items.failures)
	assert.Equal(t, models.ItemStatusProcessing, items.items["item-1"].Status)

	// The redelivery completes the item and counts it exactly once.
	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 1))
	assert.Equal(t, models.ItemStatusReady, items.lastStatus)
	assert.Equal(t, 1, items.successes)
	assert.Equal(t, []string{"ready"}, metrics.outcomes)
}

func TestPipelineTransientErrorKeepsRetryBudget(t *testing.T) {
	items := queuedItemStub()
	store := &stubObjectStore{objects: map[string][]byte{"invoices/c/b/i/a.pdf": []byte("pdf-bytes")}}
	provider := &providerStub{err: errors.New("provider timeout")}
	metrics := &metricsStub{}
	svc := NewPipelineService(items, store, provider, metrics, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85, WorkerRetries: 2}, zap.NewNop())

	// Early attempts return the error for redelivery without finalising the
	// item or touching the batch.
	require.Error(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, models.ItemStatusProcessing, items.items["item-1"].Status)
	assert.Zero(t, items.failures)
	assert.Empty(t, metrics.outcomes)

	// The provider recovers and the retry succeeds normally.
	provider.err = nil
	provider.result = confidentResult("0.96")
	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 1))
	assert.Equal(t, models.ItemStatusReady, items.lastStatus)
	assert.Equal(t, 1, items.successes)
	assert.Zero(t, items.failures)
}

func TestPipelineFinalAttemptFailsItem(t *testing.T) {
	items := queuedItemStub()
	store := &stubObjectStore{objects: map[string][]byte{"invoices/c/b/i/a.pdf": []byte("pdf-bytes")}}
	provider := &providerStub{err: errors.New("provider timeout")}
	metrics := &metricsStub{}
	svc := NewPipelineService(items, store, provider, metrics, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85, WorkerRetries: 2}, zap.NewNop())

	err := svc.ProcessItem(context.Background(), "item-1", 2)
	require.Error(t, err)
	assert.Equal(t, models.ItemStatusFailed, items.lastStatus)
	assert.Contains(t, items.failReason, "extraction failed")
	// The batch still advances so siblings are never blocked.
	assert.Equal(t, 1, items.failures)
	assert.Equal(t, []string{"failed"}, metrics.outcomes)

	// A late redelivery finds the terminal status and drops the job without
	// double-counting.
	require.NoError(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Equal(t, 1, items.failures)
}

func TestPipelineMissingFileFailsItemOnFinalAttempt(t *testing.T) {
	items := &pipelineItemStub{items: map[string]*models.UploadItem{
		"item-1": {ID: "item-1", BatchID: "batch-1", FileKey: "invoices/gone.pdf", Status: models.ItemStatusQueued},
	}}
	metrics := &metricsStub{}
	svc := NewPipelineService(items, &stubObjectStore{}, &providerStub{}, metrics, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85}, zap.NewNop())

	// Attempts before the last keep the item retryable.
	require.Error(t, svc.ProcessItem(context.Background(), "item-1", 0))
	assert.Zero(t, items.failures)

	// WorkerRetries defaults to 3, so attempt 3 is the last one.
	err := svc.ProcessItem(context.Background(), "item-1", 3)
	require.Error(t, err)
	assert.Equal(t, models.ItemStatusFailed, items.lastStatus)
	assert.Contains(t, items.failReason, "stored file unavailable")
	assert.Equal(t, 1, items.failures)
	assert.Equal(t, []string{"failed"}, metrics.outcomes)
}

func TestPipelineRequeuesStuckItems(t *testing.T) {
	items := &pipelineItemStub{
		items: map[string]*models.UploadItem{},
		stuck: []models.UploadItem{{ID: "item-7"}, {ID: "item-8"}},
	}
	queue := &stubEnqueuer{}
	svc := NewPipelineService(items, &stubObjectStore{}, &providerStub{}, nil, queue,
		config.OCRConfig{RequeueAfter: 10 * time.Minute}, zap.NewNop())

	require.NoError(t, svc.RequeueStuckItems(context.Background()))
	require.Len(t, queue.jobs, 2)
	assert.Equal(t, ExtractJobPayload{ItemID: "item-7"}, queue.jobs[0].Payload)
	assert.Equal(t, JobTypeExtractInvoice, queue.jobs[0].Type)
}

func TestPipelineHandleJob(t *testing.T) {
	svc, items, _ := pipelineFixture(confidentResult("0.96"))

	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{
		ID:      "item-1",
		Type:    JobTypeExtractInvoice,
		Payload: ExtractJobPayload{ItemID: "item-1"},
	}))
	assert.Equal(t, models.ItemStatusReady, items.lastStatus)
}

func TestPipelineHandleJobCarriesAttempt(t *testing.T) {
	items := queuedItemStub()
	svc := NewPipelineService(items, &stubObjectStore{}, &providerStub{}, nil, &stubEnqueuer{},
		config.OCRConfig{ConfidenceThreshold: 0.85}, zap.NewNop())

	// The file is missing; on the queue's last delivery the item must go
	// terminal instead of staying in processing forever.
	require.Error(t, svc.HandleJob(context.Background(), jobs.Job{
		ID:      "item-1",
		Type:    JobTypeExtractInvoice,
		Payload: ExtractJobPayload{ItemID: "item-1"},
		Attempt: 3,
	}))
	assert.Equal(t, models.ItemStatusFailed, items.lastStatus)
	assert.Equal(t, 1, items.failures)
}

func TestPipelineHandleJobBadPayload(t *testing.T) {
	svc, items, _ := pipelineFixture(confidentResult("0.96"))

	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "item-1", Payload: "not-a-payload"}))
	assert.Zero(t, items.successes)
}
