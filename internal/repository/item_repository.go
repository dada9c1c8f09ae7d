package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
)

// ItemRepository handles upload item persistence.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository constructs the repository.
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, batch_id, company_id, file_name, file_key, file_hash, file_size_bytes, status,
       ocr_confidence_score, ocr_extracted_data, ocr_processing_time_ms, error_message, invoice_id,
       created_at, processed_at`

// Create stores a new item in status queued.
func (r *ItemRepository) Create(ctx context.Context, item *models.UploadItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusQueued
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO upload_items
	(id, batch_id, company_id, file_name, file_key, file_hash, file_size_bytes, status,
	 ocr_confidence_score, ocr_extracted_data, ocr_processing_time_ms, error_message, invoice_id,
	 created_at, processed_at)
	VALUES (:id, :batch_id, :company_id, :file_name, :file_key, :file_hash, :file_size_bytes, :status,
	 :ocr_confidence_score, :ocr_extracted_data, :ocr_processing_time_ms, :error_message, :invoice_id,
	 :created_at, :processed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("create upload item: %w", err)
	}
	return nil
}

// GetByID loads an item without tenant scoping. Used by the pipeline worker,
// which runs outside any request and carries no claims.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*models.UploadItem, error) {
	query := `SELECT ` + itemColumns + ` FROM upload_items WHERE id = $1`
	var item models.UploadItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetForCompany loads an item scoped to the owning company.
func (r *ItemRepository) GetForCompany(ctx context.Context, id, companyID string) (*models.UploadItem, error) {
	query := `SELECT ` + itemColumns + ` FROM upload_items WHERE id = $1 AND company_id = $2`
	var item models.UploadItem
	if err := r.db.GetContext(ctx, &item, query, id, companyID); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListByBatch returns all items of a batch in creation order.
func (r *ItemRepository) ListByBatch(ctx context.Context, batchID, companyID string) ([]models.UploadItem, error) {
	query := `SELECT ` + itemColumns + ` FROM upload_items
	WHERE batch_id = $1 AND company_id = $2 ORDER BY created_at ASC`
	var items []models.UploadItem
	if err := r.db.SelectContext(ctx, &items, query, batchID, companyID); err != nil {
		return nil, fmt.Errorf("list batch items: %w", err)
	}
	return items, nil
}

// MarkProcessing durably records that extraction started, before any external
// call is made. The transition is conditional so a job delivered after a user
// already rejected the item cannot drag it back into the pipeline: zero rows
// surface as sql.ErrNoRows and the caller drops the job. 'processing' stays in
// the predicate so a retry of a half-finished attempt can reclaim the item.
func (r *ItemRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE upload_items SET status = $2
	WHERE id = $1 AND status IN ('queued', 'processing')`
	res, err := r.db.ExecContext(ctx, query, id, models.ItemStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark item processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check mark processing rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CompleteExtraction persists the extraction outcome and advances the batch
// counters in one transaction, so an item can never reach a terminal status
// without its batch seeing it (or the other way round). The item update is
// conditional on 'processing': if a concurrent reject won the race the whole
// transaction rolls back and sql.ErrNoRows is returned with the counters
// untouched.
func (r *ItemRepository) CompleteExtraction(ctx context.Context, id, batchID string, data models.OCRData, confidence decimal.Decimal, processingMS int, status models.ItemStatus) (*models.UploadBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin extraction tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE upload_items SET
		ocr_extracted_data = $2,
		ocr_confidence_score = $3,
		ocr_processing_time_ms = $4,
		status = $5,
		processed_at = NOW()
	WHERE id = $1 AND status = 'processing'`
	res, err := tx.ExecContext(ctx, query, id, data, confidence, processingMS, status)
	if err != nil {
		return nil, fmt.Errorf("update item ocr result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check ocr result rows: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	batch, err := incrementBatchCounters(ctx, tx, batchID, true)
	if err != nil {
		return nil, fmt.Errorf("advance batch counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extraction tx: %w", err)
	}
	return batch, nil
}

// FailExtraction records the terminal failure reason and counts the item as
// failed on its batch, in the same transaction. Conditional like
// CompleteExtraction: an item already decided by a user is left alone.
func (r *ItemRepository) FailExtraction(ctx context.Context, id, batchID, errorMessage string) (*models.UploadBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failure tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE upload_items SET status = $2, error_message = $3, processed_at = NOW()
	WHERE id = $1 AND status IN ('queued', 'processing')`
	res, err := tx.ExecContext(ctx, query, id, models.ItemStatusFailed, errorMessage)
	if err != nil {
		return nil, fmt.Errorf("mark item failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check mark failed rows: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	batch, err := incrementBatchCounters(ctx, tx, batchID, false)
	if err != nil {
		return nil, fmt.Errorf("advance batch counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failure tx: %w", err)
	}
	return batch, nil
}

// UpdateStatusFrom transitions an item conditionally: the update applies only
// while the current status is in the allowed set, so a concurrent transition
// loses and surfaces as sql.ErrNoRows.
func (r *ItemRepository) UpdateStatusFrom(ctx context.Context, id string, to models.ItemStatus, from []models.ItemStatus) error {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	const query = `UPDATE upload_items SET status = $2 WHERE id = $1 AND status = ANY($3)`
	res, err := r.db.ExecContext(ctx, query, id, to, pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check item status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountOpen counts items that still await a user decision or pipeline
// completion. Zero means every item reached accepted, rejected or failed.
func (r *ItemRepository) CountOpen(ctx context.Context, batchID string) (int, error) {
	const query = `SELECT COUNT(*) FROM upload_items
	WHERE batch_id = $1 AND status NOT IN ('accepted', 'rejected', 'failed')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, batchID); err != nil {
		return 0, fmt.Errorf("count open items: %w", err)
	}
	return count, nil
}

// ListStuckQueued returns items that were persisted as queued but never
// picked up, e.g. when the process died between the insert and the enqueue.
func (r *ItemRepository) ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + itemColumns + ` FROM upload_items
	WHERE status = 'queued' AND created_at < $1 ORDER BY created_at ASC LIMIT $2`
	var items []models.UploadItem
	if err := r.db.SelectContext(ctx, &items, query, olderThan, limit); err != nil {
		return nil, fmt.Errorf("list stuck queued items: %w", err)
	}
	return items, nil
}
