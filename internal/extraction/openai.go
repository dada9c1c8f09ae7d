package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
)

const visionSystemPrompt = `You are an invoice data extraction specialist. Extract structured data from the invoice image.
Return ONLY valid JSON with these exact fields (use null for any missing field):
{
  "invoice_number": "string or null",
  "amount": "number or null (numeric value only)",
  "currency": "3-letter ISO code or null",
  "invoice_date": "YYYY-MM-DD or null",
  "due_date": "YYYY-MM-DD or null",
  "vendor_name": "string or null",
  "confidence": "number between 0 and 1 representing your confidence in the extraction"
}
Do not include any explanation outside the JSON object.`

// OpenAIProvider extracts invoice fields through the OpenAI vision chat
// completions API.
type OpenAIProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewOpenAIProvider constructs the provider from OCR configuration.
func NewOpenAIProvider(cfg config.OCRConfig, logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type extractedPayload struct {
	InvoiceNumber *string          `json:"invoice_number"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      *string          `json:"currency"`
	InvoiceDate   *string          `json:"invoice_date"`
	DueDate       *string          `json:"due_date"`
	VendorName    *string          `json:"vendor_name"`
	Confidence    *float64         `json:"confidence"`
}

// Extract sends the document to the vision model and parses the structured
// reply. Transport or parse failures yield a degraded result, not an error,
// with the elapsed time recorded either way.
func (p *OpenAIProvider) Extract(ctx context.Context, document []byte, contentType string) (*Result, error) {
	start := time.Now()

	result, err := p.call(ctx, document, contentType)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		p.logger.Warn("openai extraction failed", zap.Error(err), zap.Int("elapsed_ms", elapsed))
		return DegradedResult(err.Error(), elapsed), nil
	}

	result.ProcessingMS = elapsed
	return result, nil
}

func (p *OpenAIProvider) call(ctx context.Context, document []byte, contentType string) (*Result, error) {
	b64 := base64.StdEncoding.EncodeToString(document)
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: visionSystemPrompt},
			{Role: "user", Content: []imagePart{{
				Type: "image_url",
				ImageURL: imageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", contentType, b64),
					Detail: "high",
				},
			}}},
		},
		MaxTokens:      512,
		ResponseFormat: json.RawMessage(`{"type":"json_object"}`),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call vision api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vision api returned %d: %s", resp.StatusCode, string(snippet))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("vision api returned no choices")
	}

	raw := chat.Choices[0].Message.Content
	var parsed extractedPayload
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}

	confidence := 0.0
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Result{
		Fields: models.OCRData{
			InvoiceNumber: parsed.InvoiceNumber,
			Amount:        parsed.Amount,
			Currency:      parsed.Currency,
			InvoiceDate:   parsed.InvoiceDate,
			DueDate:       parsed.DueDate,
			VendorName:    parsed.VendorName,
			RawText:       &raw,
		},
		Confidence: decimal.NewFromFloat(confidence),
	}, nil
}
