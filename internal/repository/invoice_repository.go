package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

const pqUniqueViolation = "23505"

// InvoiceRepository handles canonical invoice persistence.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `id, company_id, customer_id, invoice_number, amount, currency, invoice_date, due_date,
       payment_terms_days, status, source, file_key, ocr_processed, ocr_confidence_score, ocr_extracted_data,
       upload_item_id, created_at, updated_at, deleted_at, version`

// CreateFromAcceptance inserts the invoice and flips the source item to
// accepted with the invoice link, atomically. The item update is conditional
// on the reviewable statuses so a concurrent accept or reject loses cleanly.
// A (company_id, invoice_number) uniqueness violation becomes a ConflictError.
func (r *InvoiceRepository) CreateFromAcceptance(ctx context.Context, invoice *models.Invoice, itemID string) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
		invoice.UpdatedAt = now
	}
	if invoice.Version == 0 {
		invoice.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin acceptance tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO invoices
	(id, company_id, customer_id, invoice_number, amount, currency, invoice_date, due_date,
	 payment_terms_days, status, source, file_key, ocr_processed, ocr_confidence_score, ocr_extracted_data,
	 upload_item_id, created_at, updated_at, version)
	VALUES (:id, :company_id, :customer_id, :invoice_number, :amount, :currency, :invoice_date, :due_date,
	 :payment_terms_days, :status, :source, :file_key, :ocr_processed, :ocr_confidence_score, :ocr_extracted_data,
	 :upload_item_id, :created_at, :updated_at, :version)`
	if _, err := tx.NamedExecContext(ctx, insert, invoice); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("invoice number '%s' already exists for this company", invoice.InvoiceNumber))
		}
		return fmt.Errorf("create invoice: %w", err)
	}

	const accept = `UPDATE upload_items SET status = $2, invoice_id = $3
	WHERE id = $1 AND status IN ('ready', 'review_pending')`
	res, err := tx.ExecContext(ctx, accept, itemID, models.ItemStatusAccepted, invoice.ID)
	if err != nil {
		return fmt.Errorf("accept upload item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check accept rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit acceptance tx: %w", err)
	}
	return nil
}

// GetByID retrieves one live invoice scoped to the owning company.
func (r *InvoiceRepository) GetByID(ctx context.Context, id, companyID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
	WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id, companyID); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateStatus writes a new status with an optimistic version check: the
// version is bumped inside the same statement and the update applies only
// when the caller still holds the latest version.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id, companyID string, status models.InvoiceStatus, expectedVersion int) error {
	const query = `UPDATE invoices SET status = $3, version = version + 1, updated_at = NOW()
	WHERE id = $1 AND company_id = $2 AND version = $4 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, companyID, status, expectedVersion)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check invoice update rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "invoice was modified concurrently, reload and retry")
	}
	return nil
}
