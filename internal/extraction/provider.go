// Package extraction turns uploaded invoice documents into structured fields.
package extraction

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
)

// Result is the outcome of one extraction attempt. A provider failure does not
// surface as an error: the result is marked Degraded with zero confidence so
// the caller routes the item to manual review instead of aborting the batch.
type Result struct {
	Fields       models.OCRData
	Confidence   decimal.Decimal
	ProcessingMS int

	Degraded       bool
	DegradedReason string
}

// Provider extracts invoice fields from a document.
type Provider interface {
	Extract(ctx context.Context, document []byte, contentType string) (*Result, error)
}

// DegradedResult builds the placeholder returned when a provider cannot
// produce an extraction. Elapsed time is still recorded.
func DegradedResult(reason string, processingMS int) *Result {
	return &Result{
		Confidence:     decimal.Zero,
		ProcessingMS:   processingMS,
		Degraded:       true,
		DegradedReason: reason,
	}
}
