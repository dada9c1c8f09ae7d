package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/pkg/config"
)

func chatReply(t *testing.T, content string) []byte {
	t.Helper()
	reply := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
	}
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	return data
}

func newTestProvider(endpoint string) *OpenAIProvider {
	return NewOpenAIProvider(config.OCRConfig{
		APIKey:         "sk-test",
		Model:          "gpt-4o",
		Endpoint:       endpoint,
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestOpenAIProviderExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o", req["model"])

		w.Write(chatReply(t, `{"invoice_number":"INV-1001","amount":1250.00,"currency":"USD",
			"invoice_date":"2026-01-15","due_date":"2026-02-14","vendor_name":"Acme Corp","confidence":0.96}`))
	}))
	defer server.Close()

	result, err := newTestProvider(server.URL).Extract(context.Background(), []byte("fake-pdf"), "application/pdf")
	require.NoError(t, err)
	require.False(t, result.Degraded)
	require.Equal(t, "0.96", result.Confidence.String())
	require.NotNil(t, result.Fields.InvoiceNumber)
	require.Equal(t, "INV-1001", *result.Fields.InvoiceNumber)
	require.Equal(t, "1250", result.Fields.Amount.String())
	require.Equal(t, "2026-02-14", *result.Fields.DueDate)
	require.NotNil(t, result.Fields.RawText)
	require.GreaterOrEqual(t, result.ProcessingMS, 0)
}

func TestOpenAIProviderClampsConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, `{"invoice_number":"INV-1","confidence":1.7}`))
	}))
	defer server.Close()

	result, err := newTestProvider(server.URL).Extract(context.Background(), []byte("doc"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "1", result.Confidence.String())
}

func TestOpenAIProviderDegradesOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result, err := newTestProvider(server.URL).Extract(context.Background(), []byte("doc"), "application/pdf")
	require.NoError(t, err)
	require.True(t, result.Degraded)
	require.NotEmpty(t, result.DegradedReason)
	require.True(t, result.Confidence.IsZero())
	require.GreaterOrEqual(t, result.ProcessingMS, 0)
}

func TestOpenAIProviderDegradesOnMalformedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, "I could not read this document, sorry."))
	}))
	defer server.Close()

	result, err := newTestProvider(server.URL).Extract(context.Background(), []byte("doc"), "application/pdf")
	require.NoError(t, err)
	require.True(t, result.Degraded)
}
