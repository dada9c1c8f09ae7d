package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bhanu-singh/rcbl-backend/internal/dto"
	"github.com/bhanu-singh/rcbl-backend/internal/middleware"
	"github.com/bhanu-singh/rcbl-backend/internal/models"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
)

type itemServiceMock struct {
	item       *models.UploadItem
	getErr     error
	acceptResp *dto.AcceptItemResponse
	acceptErr  error
	rejectErr  error
	gotAccept  *dto.AcceptItemRequest
}

func (m *itemServiceMock) GetItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error) {
	return m.item, m.getErr
}

func (m *itemServiceMock) AcceptItem(ctx context.Context, itemID, companyID string, req dto.AcceptItemRequest) (*dto.AcceptItemResponse, error) {
	m.gotAccept = &req
	return m.acceptResp, m.acceptErr
}

func (m *itemServiceMock) RejectItem(ctx context.Context, itemID, companyID string) (*models.UploadItem, error) {
	return m.item, m.rejectErr
}

func TestItemHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conf := decimal.RequireFromString("0.92")
	mockSvc := &itemServiceMock{
		item: &models.UploadItem{ID: "item-1", Status: models.ItemStatusReady, OCRConfidenceScore: &conf},
	}
	h := NewItemHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/items/item-1", nil)
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "item-1")
}

func TestItemHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &itemServiceMock{getErr: appErrors.NotFoundf("upload item", "item-9")}
	h := NewItemHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/invoices/upload/items/item-9", nil)
	c.Params = gin.Params{{Key: "itemId", Value: "item-9"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestItemHandlerAccept(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &itemServiceMock{
		acceptResp: &dto.AcceptItemResponse{InvoiceID: "inv-1", ItemID: "item-1"},
	}
	h := NewItemHandler(mockSvc)

	payload, _ := json.Marshal(dto.AcceptItemRequest{CustomerID: "0a6db9ac-3f6a-4c7e-9f3e-0f2b8f6f9a11"})
	c, w := newGinContext(http.MethodPatch, "/invoices/upload/items/item-1/accept", payload)
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Accept(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mockSvc.gotAccept)
	require.Equal(t, "0a6db9ac-3f6a-4c7e-9f3e-0f2b8f6f9a11", mockSvc.gotAccept.CustomerID)
	require.Contains(t, w.Body.String(), "inv-1")
}

func TestItemHandlerAcceptBadJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewItemHandler(&itemServiceMock{})

	c, w := newGinContext(http.MethodPatch, "/invoices/upload/items/item-1/accept", []byte("{not json"))
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Accept(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestItemHandlerAcceptConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &itemServiceMock{
		acceptErr: appErrors.Clone(appErrors.ErrConflict, "invoice number 'INV-1001' already exists"),
	}
	h := NewItemHandler(mockSvc)

	payload, _ := json.Marshal(dto.AcceptItemRequest{CustomerID: "0a6db9ac-3f6a-4c7e-9f3e-0f2b8f6f9a11"})
	c, w := newGinContext(http.MethodPatch, "/invoices/upload/items/item-1/accept", payload)
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Accept(c)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "INV-1001")
}

func TestItemHandlerReject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &itemServiceMock{
		item: &models.UploadItem{ID: "item-1", Status: models.ItemStatusRejected},
	}
	h := NewItemHandler(mockSvc)

	c, w := newGinContext(http.MethodPatch, "/invoices/upload/items/item-1/reject", nil)
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), string(models.ItemStatusRejected))
}

func TestItemHandlerRejectInvalidState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &itemServiceMock{
		rejectErr: appErrors.Clone(appErrors.ErrInvalidState, "cannot reject an already accepted or failed item"),
	}
	h := NewItemHandler(mockSvc)

	c, w := newGinContext(http.MethodPatch, "/invoices/upload/items/item-1/reject", nil)
	c.Params = gin.Params{{Key: "itemId", Value: "item-1"}}
	c.Set(middleware.ContextUserKey, authedClaims())

	h.Reject(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
