package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

// Event names used on the progress stream.
const (
	ProgressEventProgress = "progress"
	ProgressEventDone     = "done"
	ProgressEventTimeout  = "timeout"
)

type progressBatchRepository interface {
	GetByID(ctx context.Context, id, companyID string) (*models.UploadBatch, error)
}

type progressItemRepository interface {
	ListByBatch(ctx context.Context, batchID, companyID string) ([]models.UploadItem, error)
}

type progressSnapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ProgressEmitter receives stream events in order.
type ProgressEmitter func(event string, payload *dto.ProgressEvent) error

// ProgressService streams batch processing progress to clients. It polls the
// batch row rather than subscribing to worker events: counters advance through
// a single atomic statement, so the row is always a consistent snapshot.
type ProgressService struct {
	batches progressBatchRepository
	items   progressItemRepository
	cache   progressSnapshotCache
	cfg     config.ProgressConfig
	logger  *zap.Logger
}

// NewProgressService constructs a ProgressService instance.
func NewProgressService(batches progressBatchRepository, items progressItemRepository, cache progressSnapshotCache, cfg config.ProgressConfig, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{batches: batches, items: items, cache: cache, cfg: cfg, logger: logger}
}

// Snapshot builds the current progress event for a batch. Snapshots are cached
// briefly so many concurrent streams of one batch share the same reads.
func (s *ProgressService) Snapshot(ctx context.Context, batchID, companyID string) (*dto.ProgressEvent, error) {
	key := fmt.Sprintf("progress:%s:%s", companyID, batchID)

	if s.cache != nil {
		var cached dto.ProgressEvent
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("progress snapshot cache read failed", zap.String("batch_id", batchID), zap.Error(err))
		}
	}

	batch, err := s.batches.GetByID(ctx, batchID, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundf("upload batch", batchID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}

	items, err := s.items.ListByBatch(ctx, batchID, companyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch items")
	}

	event := &dto.ProgressEvent{
		BatchID:         batch.ID,
		Status:          string(batch.Status),
		TotalFiles:      batch.TotalFiles,
		ProcessedFiles:  batch.ProcessedFiles,
		SuccessfulFiles: batch.SuccessfulFiles,
		FailedFiles:     batch.FailedFiles,
		Items:           make([]dto.ProgressItem, 0, len(items)),
	}
	for _, item := range items {
		var confidence *float64
		if item.OCRConfidenceScore != nil {
			v := item.OCRConfidenceScore.InexactFloat64()
			confidence = &v
		}
		event.Items = append(event.Items, dto.ProgressItem{
			ItemID:     item.ID,
			FileName:   item.FileName,
			Status:     string(item.Status),
			Confidence: confidence,
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, event, s.cfg.SnapshotTTL); err != nil {
			s.logger.Warn("progress snapshot cache write failed", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	return event, nil
}

// Stream emits progress events until processing finishes, the stream budget
// runs out or the client disconnects. The first snapshot is emitted
// immediately; afterwards an event goes out only when the counters or the
// batch status changed.
func (s *ProgressService) Stream(ctx context.Context, batchID, companyID string, emit ProgressEmitter) error {
	event, err := s.Snapshot(ctx, batchID, companyID)
	if err != nil {
		return err
	}

	if done := s.isDone(event); done {
		return emit(ProgressEventDone, event)
	}
	if err := emit(ProgressEventProgress, event); err != nil {
		return nil
	}

	pollInterval := s.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	streamTimeout := s.cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = 5 * time.Minute
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(streamTimeout)
	defer deadline.Stop()

	last := event
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			if err := emit(ProgressEventTimeout, last); err != nil {
				return nil
			}
			return nil
		case <-ticker.C:
			event, err := s.Snapshot(ctx, batchID, companyID)
			if err != nil {
				s.logger.Warn("progress poll failed", zap.String("batch_id", batchID), zap.Error(err))
				continue
			}

			if s.isDone(event) {
				_ = emit(ProgressEventDone, event)
				return nil
			}

			if event.ProcessedFiles != last.ProcessedFiles || event.Status != last.Status {
				if err := emit(ProgressEventProgress, event); err != nil {
					return nil
				}
				last = event
			}
		}
	}
}

// isDone reports whether extraction finished for the whole batch. Review may
// still be open; the stream covers processing, not the human decisions.
func (s *ProgressService) isDone(event *dto.ProgressEvent) bool {
	switch models.BatchStatus(event.Status) {
	case models.BatchStatusReviewPending, models.BatchStatusCompleted, models.BatchStatusFailed:
		return true
	}
	return event.TotalFiles > 0 && event.ProcessedFiles >= event.TotalFiles
}
