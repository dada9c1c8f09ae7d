package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

const (
	defaultCurrency     = "EUR"
	defaultPaymentTerms = 30
	dateLayout          = "2006-01-02"
)

type reviewBatchRepository interface {
	GetByID(ctx context.Context, id, companyID string) (*models.UploadBatch, error)
	List(ctx context.Context, companyID string, filter models.BatchFilter) ([]models.UploadBatch, error)
	Count(ctx context.Context, companyID string) (int, error)
	UpdateStatus(ctx context.Context, batchID string, status models.BatchStatus, completedAt *time.Time) error
}

type reviewItemRepository interface {
	GetForCompany(ctx context.Context, id, companyID string) (*models.UploadItem, error)
	ListByBatch(ctx context.Context, batchID, companyID string) ([]models.UploadItem, error)
	UpdateStatusFrom(ctx context.Context, id string, to models.ItemStatus, from []models.ItemStatus) error
	CountOpen(ctx context.Context, batchID string) (int, error)
}

type reviewInvoiceRepository interface {
	CreateFromAcceptance(ctx context.Context, invoice *models.Invoice, itemID string) error
}

// ReviewService exposes the human side of the pipeline: inspecting batches and
// items, accepting an item into a canonical invoice or rejecting it. All
// lookups are tenant scoped; rows of another company surface as NOT_FOUND so
// their existence never leaks.
type ReviewService struct {
	batches   reviewBatchRepository
	items     reviewItemRepository
	invoices  reviewInvoiceRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReviewService constructs a ReviewService instance.
func NewReviewService(batches reviewBatchRepository, items reviewItemRepository, invoices reviewInvoiceRepository, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{batches: batches, items: items, invoices: invoices, validator: validate, logger: logger}
}

// GetBatch returns one batch, optionally with its items.
func (s *ReviewService) GetBatch(ctx context.Context, batchID, companyID string, withItems bool) (*models.UploadBatch, error) {
	batch, err := s.batches.GetByID(ctx, batchID, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundf("upload batch", batchID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}

	if withItems {
		items, err := s.items.ListByBatch(ctx, batchID, companyID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch items")
		}
		batch.Items = items
	}
	return batch, nil
}

// ListBatches returns a page of batches with the total count.
func (s *ReviewService) ListBatches(ctx context.Context, companyID string, filter models.BatchFilter) ([]models.UploadBatch, int, error) {
	batches, err := s.batches.List(ctx, companyID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	total, err := s.batches.Count(ctx, companyID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count batches")
	}
	return batches, total, nil
}

// GetItem returns one upload item.
func (s *ReviewService) GetItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error) {
	item, err := s.items.GetForCompany(ctx, itemID, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundf("upload item", itemID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	return item, nil
}

// AcceptItem merges extracted data with the caller's overrides, validates the
// merged record and creates the canonical invoice. Overrides always win over
// extracted values.
func (s *ReviewService) AcceptItem(ctx context.Context, itemID, companyID string, req dto.AcceptItemRequest) (*dto.AcceptItemResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid accept payload")
	}

	item, err := s.GetItem(ctx, itemID, companyID)
	if err != nil {
		return nil, err
	}

	if item.Status != models.ItemStatusReady && item.Status != models.ItemStatusReviewPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("item status is '%s', only 'ready' or 'review_pending' items can be accepted", item.Status))
	}

	var ocr models.OCRData
	if item.OCRExtractedData != nil {
		ocr = *item.OCRExtractedData
	}

	invoiceNumber := firstString(req.InvoiceNumber, ocr.InvoiceNumber)
	amount := firstDecimal(req.Amount, ocr.Amount)
	currency := defaultCurrency
	if v := firstString(req.Currency, ocr.Currency); v != "" {
		currency = v
	}
	invoiceDate := firstDate(req.InvoiceDate, ocr.InvoiceDate)
	dueDate := firstDate(req.DueDate, ocr.DueDate)
	paymentTerms := defaultPaymentTerms
	if req.PaymentTermsDays != nil {
		paymentTerms = *req.PaymentTermsDays
	}

	var missing []string
	if invoiceNumber == "" {
		missing = append(missing, "invoice_number")
	}
	if amount == nil {
		missing = append(missing, "amount")
	}
	if invoiceDate == nil {
		missing = append(missing, "invoice_date")
	}
	if dueDate == nil {
		missing = append(missing, "due_date")
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrUnprocessable,
			fmt.Sprintf("cannot create invoice, missing required fields: %s. Provide them in the request body to override extracted results.",
				strings.Join(missing, ", ")))
	}

	if amount.Sign() <= 0 {
		return nil, appErrors.Clone(appErrors.ErrUnprocessable,
			fmt.Sprintf("amount must be greater than zero, got %s. Provide it in the request body to override extracted results.", amount))
	}

	if dueDate.Before(*invoiceDate) {
		return nil, appErrors.Clone(appErrors.ErrUnprocessable, "due_date must be on or after invoice_date")
	}

	fileKey := item.FileKey
	invoice := &models.Invoice{
		CompanyID:          companyID,
		CustomerID:         req.CustomerID,
		InvoiceNumber:      invoiceNumber,
		Amount:             *amount,
		Currency:           currency,
		InvoiceDate:        *invoiceDate,
		DueDate:            *dueDate,
		PaymentTermsDays:   paymentTerms,
		Status:             models.InvoiceStatusPending,
		Source:             models.InvoiceSourceUpload,
		FileKey:            &fileKey,
		OCRProcessed:       true,
		OCRConfidenceScore: item.OCRConfidenceScore,
		OCRExtractedData:   item.OCRExtractedData,
		UploadItemID:       &item.ID,
	}

	if err := s.invoices.CreateFromAcceptance(ctx, invoice, item.ID); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "item was decided concurrently and is no longer reviewable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invoice")
	}

	s.finalizeBatchIfDone(ctx, item.BatchID)

	s.logger.Info("item accepted",
		zap.String("item_id", item.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("company_id", companyID))

	return &dto.AcceptItemResponse{
		InvoiceID: invoice.ID,
		ItemID:    item.ID,
		Message:   "invoice created",
	}, nil
}

// RejectItem discards an item. Queued items may be rejected before their
// extraction ever runs; a later job delivery finds the terminal status and
// drops the work.
func (s *ReviewService) RejectItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error) {
	item, err := s.GetItem(ctx, itemID, companyID)
	if err != nil {
		return nil, err
	}

	allowed := []models.ItemStatus{models.ItemStatusQueued, models.ItemStatusReady, models.ItemStatusReviewPending}
	if !statusIn(item.Status, allowed) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("item status is '%s', cannot reject an already accepted or failed item", item.Status))
	}

	if err := s.items.UpdateStatusFrom(ctx, item.ID, models.ItemStatusRejected, allowed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "item was decided concurrently and is no longer reviewable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject item")
	}

	s.finalizeBatchIfDone(ctx, item.BatchID)

	item.Status = models.ItemStatusRejected
	s.logger.Info("item rejected", zap.String("item_id", item.ID), zap.String("company_id", companyID))
	return item, nil
}

// finalizeBatchIfDone moves the batch to completed once no item awaits a
// decision. Best effort: a failure here never blocks the accept or reject.
func (s *ReviewService) finalizeBatchIfDone(ctx context.Context, batchID string) {
	open, err := s.items.CountOpen(ctx, batchID)
	if err != nil {
		s.logger.Warn("failed to count open items", zap.String("batch_id", batchID), zap.Error(err))
		return
	}
	if open > 0 {
		return
	}
	now := time.Now().UTC()
	if err := s.batches.UpdateStatus(ctx, batchID, models.BatchStatusCompleted, &now); err != nil {
		s.logger.Warn("failed to finalize batch", zap.String("batch_id", batchID), zap.Error(err))
	}
}

func firstString(override, extracted *string) string {
	if override != nil && *override != "" {
		return *override
	}
	if extracted != nil {
		return *extracted
	}
	return ""
}

func firstDecimal(override, extracted *decimal.Decimal) *decimal.Decimal {
	if override != nil {
		return override
	}
	return extracted
}

// firstDate resolves an override or extracted ISO date string. Unparseable
// extracted values count as absent rather than failing the accept.
func firstDate(override, extracted *string) *time.Time {
	for _, candidate := range []*string{override, extracted} {
		if candidate == nil || *candidate == "" {
			continue
		}
		parsed, err := time.Parse(dateLayout, *candidate)
		if err != nil {
			continue
		}
		return &parsed
	}
	return nil
}

func statusIn(status models.ItemStatus, set []models.ItemStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}
