package handler

import (
	"context"
	"io"
	"mime/multipart"

	"github.com/gin-gonic/gin"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/service"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
	"github.com/bhanu-singh/rcbl-backend/pkg/response"
)

type uploadService interface {
	UploadSingle(ctx context.Context, companyID, userID string, file service.UploadFile) (*dto.SingleUploadResponse, error)
	UploadBulk(ctx context.Context, companyID, userID string, files []service.UploadFile) (*dto.BulkUploadResponse, error)
}

type uploadMetrics interface {
	RecordUploadBytes(n int64)
}

// UploadHandler manages invoice document upload endpoints.
type UploadHandler struct {
	service uploadService
	metrics uploadMetrics
}

// NewUploadHandler constructs the handler.
func NewUploadHandler(svc uploadService, metrics uploadMetrics) *UploadHandler {
	return &UploadHandler{service: svc, metrics: metrics}
}

// UploadSingle godoc
// @Summary Upload a single invoice document for extraction
// @Tags Invoices
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF or image file, max 20 MB"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /invoices/upload [post]
func (h *UploadHandler) UploadSingle(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}

	file, err := readUpload(fileHeader)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.service.UploadSingle(c.Request.Context(), claims.CompanyID, claims.UserID, file)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUploadBytes(file.Size)
	}
	response.Accepted(c, res)
}

// UploadBulk godoc
// @Summary Upload multiple invoice documents for batch extraction
// @Tags Invoices
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "PDF or image files, each max 20 MB"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /invoices/upload/bulk [post]
func (h *UploadHandler) UploadBulk(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid multipart payload"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	var accepted int64
	for _, header := range headers {
		file, err := readUpload(header)
		if err != nil {
			response.Error(c, err)
			return
		}
		files = append(files, file)
		accepted += file.Size
	}

	res, err := h.service.UploadBulk(c.Request.Context(), claims.CompanyID, claims.UserID, files)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUploadBytes(accepted)
	}
	response.Accepted(c, res)
}

// readUpload buffers one multipart file into memory. Size validation happens
// in the service; documents are capped at 20 MB so buffering is fine.
func readUpload(header *multipart.FileHeader) (service.UploadFile, error) {
	src, err := header.Open()
	if err != nil {
		return service.UploadFile{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return service.UploadFile{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file")
	}

	return service.UploadFile{
		Name:        header.Filename,
		Size:        int64(len(data)),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
