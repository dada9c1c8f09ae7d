package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
	"github.com/bhanu-singh/rcbl-backend/pkg/response"
)

type itemReviewService interface {
	GetItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error)
	AcceptItem(ctx context.Context, itemID, companyID string, req dto.AcceptItemRequest) (*dto.AcceptItemResponse, error)
	RejectItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error)
}

// ItemHandler manages upload item review endpoints.
type ItemHandler struct {
	service itemReviewService
}

// NewItemHandler constructs the handler.
func NewItemHandler(svc itemReviewService) *ItemHandler {
	return &ItemHandler{service: svc}
}

// Get godoc
// @Summary Get item detail including extracted data
// @Tags Invoices
// @Produce json
// @Param itemId path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /invoices/upload/items/{itemId} [get]
func (h *ItemHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	item, err := h.service.GetItem(c.Request.Context(), c.Param("itemId"), claims.CompanyID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, item, nil)
}

// Accept godoc
// @Summary Accept extracted data and create an invoice
// @Description Merges extracted fields with request overrides; overrides win.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param itemId path string true "Item ID"
// @Param payload body dto.AcceptItemRequest true "Overrides and customer assignment"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/upload/items/{itemId}/accept [patch]
func (h *ItemHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.AcceptItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid accept payload"))
		return
	}

	res, err := h.service.AcceptItem(c.Request.Context(), c.Param("itemId"), claims.CompanyID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}

// Reject godoc
// @Summary Reject an item
// @Tags Invoices
// @Produce json
// @Param itemId path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/upload/items/{itemId}/reject [patch]
func (h *ItemHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	item, err := h.service.RejectItem(c.Request.Context(), c.Param("itemId"), claims.CompanyID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, item, nil)
}
