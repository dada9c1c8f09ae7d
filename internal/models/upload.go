package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UploadType classifies how a batch was initiated.
type UploadType string

const (
	UploadTypeSingle    UploadType = "single"
	UploadTypeBulk      UploadType = "bulk"
	UploadTypeCSVImport UploadType = "csv_import"
)

// BatchStatus captures the upload batch lifecycle.
type BatchStatus string

const (
	BatchStatusUploading     BatchStatus = "uploading"
	BatchStatusProcessing    BatchStatus = "processing"
	BatchStatusReviewPending BatchStatus = "review_pending"
	BatchStatusCompleted     BatchStatus = "completed"
	BatchStatusFailed        BatchStatus = "failed"
)

// ItemStatus captures the per-document pipeline state machine.
type ItemStatus string

const (
	ItemStatusQueued        ItemStatus = "queued"
	ItemStatusProcessing    ItemStatus = "processing"
	ItemStatusReady         ItemStatus = "ready"
	ItemStatusReviewPending ItemStatus = "review_pending"
	ItemStatusAccepted      ItemStatus = "accepted"
	ItemStatusRejected      ItemStatus = "rejected"
	ItemStatusFailed        ItemStatus = "failed"
)

// UploadBatch groups the documents of one upload operation. Counters are
// mutated only by the pipeline's atomic increment; processed_files ==
// successful_files + failed_files holds after every completion.
type UploadBatch struct {
	ID              string        `db:"id" json:"id"`
	CompanyID       string        `db:"company_id" json:"company_id"`
	UploadType      UploadType    `db:"upload_type" json:"upload_type"`
	TotalFiles      int           `db:"total_files" json:"total_files"`
	ProcessedFiles  int           `db:"processed_files" json:"processed_files"`
	SuccessfulFiles int           `db:"successful_files" json:"successful_files"`
	FailedFiles     int           `db:"failed_files" json:"failed_files"`
	Status          BatchStatus   `db:"status" json:"status"`
	Metadata        BatchMetadata `db:"metadata" json:"metadata,omitempty"`
	CreatedBy       *string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`

	Items []UploadItem `db:"-" json:"items,omitempty"`
}

// BatchMetadata holds free-form batch options (e.g. CSV column mappings),
// persisted as JSONB.
type BatchMetadata map[string]string

// Value marshals metadata to JSON for persistence.
func (m BatchMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal batch metadata: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the metadata map.
func (m *BatchMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan batch metadata: %w", err)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// UploadItem tracks one document through the extraction pipeline.
type UploadItem struct {
	ID                  string           `db:"id" json:"id"`
	BatchID             string           `db:"batch_id" json:"batch_id"`
	CompanyID           string           `db:"company_id" json:"company_id"`
	FileName            string           `db:"file_name" json:"file_name"`
	FileKey             string           `db:"file_key" json:"file_key"`
	FileHash            *string          `db:"file_hash" json:"file_hash,omitempty"`
	FileSizeBytes       *int64           `db:"file_size_bytes" json:"file_size_bytes,omitempty"`
	Status              ItemStatus       `db:"status" json:"status"`
	OCRConfidenceScore  *decimal.Decimal `db:"ocr_confidence_score" json:"ocr_confidence_score,omitempty"`
	OCRExtractedData    *OCRData         `db:"ocr_extracted_data" json:"ocr_extracted_data,omitempty"`
	OCRProcessingTimeMS *int             `db:"ocr_processing_time_ms" json:"ocr_processing_time_ms,omitempty"`
	ErrorMessage        *string          `db:"error_message" json:"error_message,omitempty"`
	InvoiceID           *string          `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	ProcessedAt         *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
}

// OCRData is the canonical structured field-set an extraction provider fills,
// persisted as JSONB on the item and snapshotted onto the invoice.
type OCRData struct {
	InvoiceNumber *string          `json:"invoice_number"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      *string          `json:"currency"`
	InvoiceDate   *string          `json:"invoice_date"`
	DueDate       *string          `json:"due_date"`
	VendorName    *string          `json:"vendor_name"`
	RawText       *string          `json:"raw_text"`
}

// Value marshals extracted data to JSON for persistence.
func (d OCRData) Value() (driver.Value, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr data: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the struct.
func (d *OCRData) Scan(value interface{}) error {
	if value == nil {
		*d = OCRData{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan ocr data: %w", err)
	}
	if len(data) == 0 {
		*d = OCRData{}
		return nil
	}
	return json.Unmarshal(data, d)
}

// BatchFilter captures paging for batch listings.
type BatchFilter struct {
	Offset int
	Limit  int
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", value)
	}
}
