package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
	"github.com/bhanu-singh/rcbl-backend/pkg/jobs"
)

type uploadBatchRepository interface {
	Create(ctx context.Context, batch *models.UploadBatch) error
	UpdateStatus(ctx context.Context, batchID string, status models.BatchStatus, completedAt *time.Time) error
}

type uploadItemRepository interface {
	Create(ctx context.Context, item *models.UploadItem) error
}

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type extractionEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// UploadFile is one in-memory document received from a multipart request.
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Data        []byte
}

// UploadService receives documents, persists batch and item rows, stores the
// bytes and hands items to the extraction pipeline. Persist first, enqueue
// second: a row in status queued is the durable intent, the in-memory queue
// is only the fast path.
type UploadService struct {
	batches uploadBatchRepository
	items   uploadItemRepository
	store   objectStore
	queue   extractionEnqueuer
	cfg     config.UploadConfig
	logger  *zap.Logger
}

// NewUploadService constructs an UploadService instance.
func NewUploadService(batches uploadBatchRepository, items uploadItemRepository, store objectStore, queue extractionEnqueuer, cfg config.UploadConfig, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{batches: batches, items: items, store: store, queue: queue, cfg: cfg, logger: logger}
}

// UploadSingle accepts one document and starts its extraction.
func (s *UploadService) UploadSingle(ctx context.Context, companyID, userID string, file UploadFile) (*dto.SingleUploadResponse, error) {
	if err := s.validateFile(file); err != nil {
		return nil, err
	}

	batch := &models.UploadBatch{
		CompanyID:  companyID,
		UploadType: models.UploadTypeSingle,
		TotalFiles: 1,
		Status:     models.BatchStatusUploading,
		CreatedBy:  &userID,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create upload batch")
	}

	item, err := s.ingestFile(ctx, companyID, batch.ID, file)
	if err != nil {
		return nil, err
	}

	s.markBatchProcessing(ctx, batch)

	return &dto.SingleUploadResponse{
		BatchID: batch.ID,
		ItemID:  item.ID,
		Status:  string(item.Status),
		Message: "file accepted for processing",
	}, nil
}

// UploadBulk accepts up to MaxBulkFiles documents in one batch. Validation is
// per file: invalid files are reported in the response and skipped while the
// valid ones proceed, so one bad document never sinks its siblings. Only when
// no file passes does the whole request fail.
func (s *UploadService) UploadBulk(ctx context.Context, companyID, userID string, files []UploadFile) (*dto.BulkUploadResponse, error) {
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no files provided")
	}
	if s.cfg.MaxBulkFiles > 0 && len(files) > s.cfg.MaxBulkFiles {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("too many files: %d exceeds the limit of %d", len(files), s.cfg.MaxBulkFiles))
	}

	summaries := make([]dto.BulkUploadItemSummary, 0, len(files))
	valid := make([]UploadFile, 0, len(files))
	for _, file := range files {
		if err := s.validateFile(file); err != nil {
			summaries = append(summaries, dto.BulkUploadItemSummary{
				FileName: file.Name,
				Status:   "rejected",
				Error:    appErrors.FromError(err).Message,
			})
			continue
		}
		valid = append(valid, file)
	}

	if len(valid) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "all files failed validation")
	}

	batch := &models.UploadBatch{
		CompanyID:  companyID,
		UploadType: models.UploadTypeBulk,
		TotalFiles: len(valid),
		Status:     models.BatchStatusUploading,
		CreatedBy:  &userID,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create upload batch")
	}

	for _, file := range valid {
		item, err := s.ingestFile(ctx, companyID, batch.ID, file)
		if err != nil {
			summaries = append(summaries, dto.BulkUploadItemSummary{
				FileName: file.Name,
				Status:   "rejected",
				Error:    appErrors.FromError(err).Message,
			})
			continue
		}
		summaries = append(summaries, dto.BulkUploadItemSummary{
			ItemID:   item.ID,
			FileName: file.Name,
			Status:   string(item.Status),
		})
	}

	s.markBatchProcessing(ctx, batch)

	return &dto.BulkUploadResponse{
		BatchID:    batch.ID,
		TotalFiles: batch.TotalFiles,
		Items:      summaries,
		Message:    "batch accepted for processing",
	}, nil
}

// markBatchProcessing moves the batch out of uploading once its items are
// queued. Best effort: the item rows are the durable intent and the pipeline
// finalises the batch either way.
func (s *UploadService) markBatchProcessing(ctx context.Context, batch *models.UploadBatch) {
	if err := s.batches.UpdateStatus(ctx, batch.ID, models.BatchStatusProcessing, nil); err != nil {
		s.logger.Warn("failed to mark batch processing", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	batch.Status = models.BatchStatusProcessing
}

// ingestFile stores the bytes, persists the queued item row and enqueues the
// extraction job. An enqueue failure is not fatal: the queued row is picked up
// by the requeue sweep.
func (s *UploadService) ingestFile(ctx context.Context, companyID, batchID string, file UploadFile) (*models.UploadItem, error) {
	itemID := uuid.NewString()
	key := fmt.Sprintf("invoices/%s/%s/%s/%s", companyID, batchID, itemID, file.Name)

	if _, err := s.store.Put(ctx, key, file.Data, file.ContentType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store uploaded file")
	}

	hash := sha256.Sum256(file.Data)
	hashHex := hex.EncodeToString(hash[:])
	size := file.Size

	item := &models.UploadItem{
		ID:            itemID,
		BatchID:       batchID,
		CompanyID:     companyID,
		FileName:      file.Name,
		FileKey:       key,
		FileHash:      &hashHex,
		FileSizeBytes: &size,
		Status:        models.ItemStatusQueued,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create upload item")
	}

	if err := s.queue.Enqueue(jobs.Job{
		ID:      itemID,
		Type:    JobTypeExtractInvoice,
		Payload: ExtractJobPayload{ItemID: itemID},
	}); err != nil {
		s.logger.Warn("failed to enqueue extraction, item will be requeued",
			zap.String("item_id", itemID), zap.Error(err))
	}

	return item, nil
}

func (s *UploadService) validateFile(file UploadFile) error {
	if file.Size == 0 || len(file.Data) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file '%s' is empty", file.Name))
	}
	if s.cfg.MaxFileSizeBytes > 0 && file.Size > s.cfg.MaxFileSizeBytes {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file '%s' exceeds the maximum size of %d bytes", file.Name, s.cfg.MaxFileSizeBytes))
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(file.ContentType, ";")[0]))
	for _, allowed := range s.cfg.AllowedMIMEs {
		if contentType == allowed {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrValidation,
		fmt.Sprintf("file '%s' has unsupported type '%s', allowed types: %s",
			file.Name, contentType, strings.Join(s.cfg.AllowedMIMEs, ", ")))
}
