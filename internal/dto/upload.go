package dto

import (
	"github.com/shopspring/decimal"
)

// SingleUploadResponse is returned immediately after a single file upload.
type SingleUploadResponse struct {
	BatchID string `json:"batch_id"`
	ItemID  string `json:"item_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BulkUploadItemSummary reports the outcome of one file within a bulk upload.
type BulkUploadItemSummary struct {
	ItemID   string `json:"item_id,omitempty"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// BulkUploadResponse is returned immediately after a bulk upload.
type BulkUploadResponse struct {
	BatchID    string                  `json:"batch_id"`
	TotalFiles int                     `json:"total_files"`
	Items      []BulkUploadItemSummary `json:"items"`
	Message    string                  `json:"message"`
}

// AcceptItemRequest carries the user's confirmation when accepting an
// OCR-processed item. CustomerID is always required; every other field is an
// optional override merged on top of the extracted data.
type AcceptItemRequest struct {
	CustomerID       string           `json:"customer_id" validate:"required,uuid4"`
	InvoiceNumber    *string          `json:"invoice_number,omitempty" validate:"omitempty,max=100"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         *string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	InvoiceDate      *string          `json:"invoice_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DueDate          *string          `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PaymentTermsDays *int             `json:"payment_terms_days,omitempty" validate:"omitempty,gt=0,lte=365"`
}

// AcceptItemResponse is returned after an invoice was created from an item.
type AcceptItemResponse struct {
	InvoiceID string `json:"invoice_id"`
	ItemID    string `json:"item_id"`
	Message   string `json:"message"`
}

// ProgressItem is the per-item slice of a progress event.
type ProgressItem struct {
	ItemID     string   `json:"item_id"`
	FileName   string   `json:"file_name"`
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence"`
}

// ProgressEvent is one SSE payload for the batch progress stream.
type ProgressEvent struct {
	BatchID         string         `json:"batch_id"`
	Status          string         `json:"status"`
	TotalFiles      int            `json:"total_files"`
	ProcessedFiles  int            `json:"processed_files"`
	SuccessfulFiles int            `json:"successful_files"`
	FailedFiles     int            `json:"failed_files"`
	Items           []ProgressItem `json:"items"`
}
