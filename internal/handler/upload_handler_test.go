package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/middleware"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/internal/service"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

type uploadServiceMock struct {
	singleResp *dto.SingleUploadResponse
	singleErr  error
	bulkResp   *dto.BulkUploadResponse
	bulkErr    error
	gotFiles   []service.UploadFile
}

func (m *uploadServiceMock) UploadSingle(ctx context.Context, companyID, userID string, file service.UploadFile) (*dto.SingleUploadResponse, error) {
	m.gotFiles = append(m.gotFiles, file)
	return m.singleResp, m.singleErr
}

func (m *uploadServiceMock) UploadBulk(ctx context.Context, companyID, userID string, files []service.UploadFile) (*dto.BulkUploadResponse, error) {
	m.gotFiles = append(m.gotFiles, files...)
	return m.bulkResp, m.bulkErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func multipartBody(t *testing.T, field string, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for _, name := range names {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 test document"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func authedClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", CompanyID: "company-1", Email: "ops@acme.test"}
}

func TestUploadHandlerSingle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &uploadServiceMock{
		singleResp: &dto.SingleUploadResponse{BatchID: "batch-1", ItemID: "item-1", Status: "queued"},
	}
	h := NewUploadHandler(mockSvc, nil)

	body, contentType := multipartBody(t, "file", "invoice.pdf")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, authedClaims())

	h.UploadSingle(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, mockSvc.gotFiles, 1)
	require.Equal(t, "invoice.pdf", mockSvc.gotFiles[0].Name)
	require.NotEmpty(t, mockSvc.gotFiles[0].Data)
}

func TestUploadHandlerSingleMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewUploadHandler(&uploadServiceMock{}, nil)

	body, contentType := multipartBody(t, "wrong_field", "invoice.pdf")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, authedClaims())

	h.UploadSingle(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandlerSingleUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewUploadHandler(&uploadServiceMock{}, nil)

	body, contentType := multipartBody(t, "file", "invoice.pdf")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req

	h.UploadSingle(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadHandlerSingleServiceRejection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &uploadServiceMock{
		singleErr: appErrors.Clone(appErrors.ErrValidation, "unsupported file type 'text/plain'"),
	}
	h := NewUploadHandler(mockSvc, nil)

	body, contentType := multipartBody(t, "file", "notes.txt")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, authedClaims())

	h.UploadSingle(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "text/plain")
}

func TestUploadHandlerBulk(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &uploadServiceMock{
		bulkResp: &dto.BulkUploadResponse{BatchID: "batch-1", TotalFiles: 2},
	}
	h := NewUploadHandler(mockSvc, nil)

	body, contentType := multipartBody(t, "files", "a.pdf", "b.pdf")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload/bulk", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, authedClaims())

	h.UploadBulk(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, mockSvc.gotFiles, 2)

	var envelope struct {
		Data dto.BulkUploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, 2, envelope.Data.TotalFiles)
}

func TestUploadHandlerBulkNoFiles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewUploadHandler(&uploadServiceMock{}, nil)

	body, contentType := multipartBody(t, "other", "a.pdf")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/invoices/upload/bulk", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextUserKey, authedClaims())

	h.UploadBulk(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
