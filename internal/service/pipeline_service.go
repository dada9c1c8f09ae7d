package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/extraction"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	"github.com/bhanu-singh/rcbl-backend/pkg/jobs"
)

// JobTypeExtractInvoice identifies extraction jobs on the queue.
const JobTypeExtractInvoice = "extract_invoice"

// ExtractJobPayload carries the item to process.
type ExtractJobPayload struct {
	ItemID string `json:"item_id"`
}

type pipelineItemRepository interface {
	GetByID(ctx context.Context, id string) (*models.UploadItem, error)
	MarkProcessing(ctx context.Context, id string) error
	CompleteExtraction(ctx context.Context, id, batchID string, data models.OCRData, confidence decimal.Decimal, processingMS int, status models.ItemStatus) (*models.UploadBatch, error)
	FailExtraction(ctx context.Context, id, batchID, errorMessage string) (*models.UploadBatch, error)
	ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadItem, error)
}

type pipelineObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type pipelineMetrics interface {
	RecordExtraction(outcome string, duration time.Duration)
}

// defaultRetries matches the queue's own default so the final-attempt check
// stays aligned when neither is configured.
const defaultRetries = 3

// PipelineService runs the extraction state machine for upload items:
// queued -> processing -> ready | review_pending | failed. Terminal item
// writes and batch counters move in one repository transaction, so every item
// is counted exactly once; re-delivered jobs for items already past
// processing are dropped.
type PipelineService struct {
	items    pipelineItemRepository
	store    pipelineObjectStore
	provider extraction.Provider
	metrics  pipelineMetrics
	queue    extractionEnqueuer
	cfg      config.OCRConfig
	retries  int
	logger   *zap.Logger
}

// NewPipelineService constructs a PipelineService instance.
func NewPipelineService(items pipelineItemRepository, store pipelineObjectStore, provider extraction.Provider, metrics pipelineMetrics, queue extractionEnqueuer, cfg config.OCRConfig, logger *zap.Logger) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.WorkerRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &PipelineService{
		items:    items,
		store:    store,
		provider: provider,
		metrics:  metrics,
		queue:    queue,
		cfg:      cfg,
		retries:  retries,
		logger:   logger,
	}
}

// HandleJob adapts ProcessItem to the queue handler signature.
func (s *PipelineService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(ExtractJobPayload)
	if !ok {
		s.logger.Error("unexpected job payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.ProcessItem(ctx, payload.ItemID, job.Attempt)
}

// ProcessItem runs one extraction attempt for an item. A deleted item is
// logged and dropped; an item already past processing is a re-delivery and is
// skipped. Attempt-scoped failures return an error so the queue retries;
// only the last attempt marks the item failed.
func (s *PipelineService) ProcessItem(ctx context.Context, itemID string, attempt int) error {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("extraction job for missing item, dropping", zap.String("item_id", itemID))
			return nil
		}
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	if item.Status != models.ItemStatusQueued && item.Status != models.ItemStatusProcessing {
		s.logger.Info("item already processed, skipping re-delivery",
			zap.String("item_id", itemID), zap.String("status", string(item.Status)))
		return nil
	}

	if err := s.items.MarkProcessing(ctx, item.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("item was decided while queued, dropping job", zap.String("item_id", itemID))
			return nil
		}
		return fmt.Errorf("mark item processing: %w", err)
	}

	document, err := s.store.Get(ctx, item.FileKey)
	if err != nil {
		return s.failAttempt(ctx, item, attempt, fmt.Sprintf("stored file unavailable: %v", err))
	}

	result, err := s.provider.Extract(ctx, document, contentTypeForFile(item.FileName))
	if err != nil {
		return s.failAttempt(ctx, item, attempt, fmt.Sprintf("extraction failed: %v", err))
	}

	status := models.ItemStatusReady
	outcome := "ready"
	threshold := decimal.NewFromFloat(s.cfg.ConfidenceThreshold)
	if result.Degraded || result.Confidence.LessThan(threshold) {
		status = models.ItemStatusReviewPending
		outcome = "review_pending"
	}
	if result.Degraded {
		s.logger.Warn("extraction degraded, routing to manual review",
			zap.String("item_id", item.ID), zap.String("reason", result.DegradedReason))
	}

	batch, err := s.items.CompleteExtraction(ctx, item.ID, item.BatchID, result.Fields, result.Confidence, result.ProcessingMS, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("item was decided during extraction, dropping result", zap.String("item_id", item.ID))
			return nil
		}
		// Nothing was persisted, so the retry repeats the whole attempt and
		// the batch counters move exactly once.
		return fmt.Errorf("persist extraction result: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordExtraction(outcome, time.Duration(result.ProcessingMS)*time.Millisecond)
	}

	s.logger.Info("item processed",
		zap.String("item_id", item.ID),
		zap.String("status", string(status)),
		zap.String("confidence", result.Confidence.String()),
		zap.Int("processing_ms", result.ProcessingMS))
	if batch.Status == models.BatchStatusReviewPending {
		s.logger.Info("batch extraction finished",
			zap.String("batch_id", batch.ID),
			zap.Int("successful", batch.SuccessfulFiles),
			zap.Int("failed", batch.FailedFiles))
	}
	return nil
}

// failAttempt handles one failed extraction attempt. Before the retry budget
// runs out the item is left in processing and the error is returned so the
// queue redelivers; the last attempt records the terminal failure and still
// advances the batch, so siblings and the progress stream are never blocked
// by one broken document.
func (s *PipelineService) failAttempt(ctx context.Context, item *models.UploadItem, attempt int, reason string) error {
	if attempt < s.retries {
		s.logger.Warn("extraction attempt failed, retrying",
			zap.String("item_id", item.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.retries+1),
			zap.String("reason", reason))
		return errors.New(reason)
	}

	if _, err := s.items.FailExtraction(ctx, item.ID, item.BatchID, reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("item was decided during extraction, dropping failure", zap.String("item_id", item.ID))
			return nil
		}
		s.logger.Error("failed to mark item failed", zap.String("item_id", item.ID), zap.Error(err))
		return fmt.Errorf("%s (and marking failed also failed: %v)", reason, err)
	}

	if s.metrics != nil {
		s.metrics.RecordExtraction("failed", 0)
	}

	s.logger.Warn("item failed after final attempt", zap.String("item_id", item.ID), zap.String("reason", reason))
	return errors.New(reason)
}

// RequeueStuckItems re-enqueues items that stayed queued past the cutoff,
// covering the gap between the durable insert and the in-memory enqueue.
func (s *PipelineService) RequeueStuckItems(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.RequeueAfter)
	items, err := s.items.ListStuckQueued(ctx, cutoff, 100)
	if err != nil {
		return fmt.Errorf("list stuck items: %w", err)
	}

	for _, item := range items {
		if err := s.queue.Enqueue(jobs.Job{
			ID:      item.ID,
			Type:    JobTypeExtractInvoice,
			Payload: ExtractJobPayload{ItemID: item.ID},
		}); err != nil {
			s.logger.Warn("failed to requeue stuck item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		s.logger.Info("requeued stuck item", zap.String("item_id", item.ID))
	}
	return nil
}

// StartRequeueSweep runs RequeueStuckItems on a fixed interval until the
// context is cancelled.
func (s *PipelineService) StartRequeueSweep(ctx context.Context) {
	interval := s.cfg.RequeueInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RequeueStuckItems(ctx); err != nil {
					s.logger.Error("requeue sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func contentTypeForFile(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/pdf"
}
