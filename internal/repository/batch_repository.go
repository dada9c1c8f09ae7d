package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
)

// BatchRepository handles upload batch persistence.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create stores a new batch. total_files is fixed at creation time.
func (r *BatchRepository) Create(ctx context.Context, batch *models.UploadBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusUploading
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO upload_batches
	(id, company_id, upload_type, total_files, processed_files, successful_files, failed_files, status, metadata, created_by, created_at, completed_at)
	VALUES (:id, :company_id, :upload_type, :total_files, :processed_files, :successful_files, :failed_files, :status, :metadata, :created_by, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create upload batch: %w", err)
	}
	return nil
}

const batchColumns = `id, company_id, upload_type, total_files, processed_files, successful_files, failed_files,
       status, metadata, created_by, created_at, completed_at`

// GetByID retrieves one batch scoped to the owning company. Cross-tenant
// lookups surface as sql.ErrNoRows, which callers map to NOT_FOUND.
func (r *BatchRepository) GetByID(ctx context.Context, id, companyID string) (*models.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM upload_batches WHERE id = $1 AND company_id = $2`
	var batch models.UploadBatch
	if err := r.db.GetContext(ctx, &batch, query, id, companyID); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches for a company ordered by recency.
func (r *BatchRepository) List(ctx context.Context, companyID string, filter models.BatchFilter) ([]models.UploadBatch, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + batchColumns + ` FROM upload_batches
	WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var batches []models.UploadBatch
	if err := r.db.SelectContext(ctx, &batches, query, companyID, limit, offset); err != nil {
		return nil, fmt.Errorf("list upload batches: %w", err)
	}
	return batches, nil
}

// Count returns the total number of batches for a company.
func (r *BatchRepository) Count(ctx context.Context, companyID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM upload_batches WHERE company_id = $1`, companyID); err != nil {
		return 0, fmt.Errorf("count upload batches: %w", err)
	}
	return count, nil
}

// incrementBatchCounters advances processed_files and one of successful/failed
// in a single statement, finalising the batch (status review_pending +
// completed_at) when the last item completes. Sibling pipeline jobs complete
// concurrently, so the read-modify-write must stay inside one UPDATE. Runs
// against the pool or a transaction; the item repository calls it inside the
// same transaction that writes the item's terminal status.
func incrementBatchCounters(ctx context.Context, q sqlx.QueryerContext, batchID string, success bool) (*models.UploadBatch, error) {
	const query = `UPDATE upload_batches SET
		processed_files = processed_files + 1,
		successful_files = successful_files + CASE WHEN $2 THEN 1 ELSE 0 END,
		failed_files = failed_files + CASE WHEN $2 THEN 0 ELSE 1 END,
		status = CASE WHEN processed_files + 1 >= total_files THEN 'review_pending' ELSE status END,
		completed_at = CASE WHEN processed_files + 1 >= total_files THEN NOW() ELSE completed_at END
	WHERE id = $1
	RETURNING ` + batchColumns
	var batch models.UploadBatch
	if err := sqlx.GetContext(ctx, q, &batch, query, batchID, success); err != nil {
		return nil, err
	}
	return &batch, nil
}

// UpdateStatus moves the batch into a new lifecycle state.
func (r *BatchRepository) UpdateStatus(ctx context.Context, batchID string, status models.BatchStatus, completedAt *time.Time) error {
	const query = `UPDATE upload_batches SET status = $2, completed_at = COALESCE($3, completed_at) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, batchID, status, completedAt); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}
