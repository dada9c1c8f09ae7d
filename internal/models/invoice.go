package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the canonical invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusDueSoon    InvoiceStatus = "due_soon"
	InvoiceStatusOverdue    InvoiceStatus = "overdue"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusWrittenOff InvoiceStatus = "written_off"
)

// InvoiceSource records how an invoice entered the system.
type InvoiceSource string

const (
	InvoiceSourceManual     InvoiceSource = "manual"
	InvoiceSourceUpload     InvoiceSource = "upload"
	InvoiceSourceBulkUpload InvoiceSource = "bulk_upload"
	InvoiceSourceCSVImport  InvoiceSource = "csv_import"
)

// Invoice is the canonical business record created when an upload item is
// accepted. invoice_number is unique per company; due_date >= invoice_date
// and amount > 0 are enforced both here and at the DB level.
type Invoice struct {
	ID               string          `db:"id" json:"id"`
	CompanyID        string          `db:"company_id" json:"company_id"`
	CustomerID       string          `db:"customer_id" json:"customer_id"`
	InvoiceNumber    string          `db:"invoice_number" json:"invoice_number"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	InvoiceDate      time.Time       `db:"invoice_date" json:"invoice_date"`
	DueDate          time.Time       `db:"due_date" json:"due_date"`
	PaymentTermsDays int             `db:"payment_terms_days" json:"payment_terms_days"`
	Status           InvoiceStatus   `db:"status" json:"status"`
	Source           InvoiceSource   `db:"source" json:"source"`
	FileKey          *string         `db:"file_key" json:"file_key,omitempty"`

	// OCR provenance, snapshotted at acceptance time.
	OCRProcessed       bool             `db:"ocr_processed" json:"ocr_processed"`
	OCRConfidenceScore *decimal.Decimal `db:"ocr_confidence_score" json:"ocr_confidence_score,omitempty"`
	OCRExtractedData   *OCRData         `db:"ocr_extracted_data" json:"ocr_extracted_data,omitempty"`
	UploadItemID       *string          `db:"upload_item_id" json:"upload_item_id,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	// Version is incremented by the write path in the same statement as the
	// field update and compared-and-swapped against the value read at load.
	Version int `db:"version" json:"version"`
}
