package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"bbsm-garage/internal/database/models"
	stockhandler "bbsm-garage/internal/services/stock/handler"
	"bbsm-garage/internal/utils"
)

type StockService interface {
	CreateStock(ctx context.Context, tenantID, actorID int64, req stockhandler.CreateStockRequest) (*models.StockRecord, error)
	GetStock(ctx context.Context, tenantID, stockID int64) (*models.StockRecord, error)
	GetQuantity(ctx context.Context, tenantID, stockID int64) (int32, error)
	ListStock(ctx context.Context, tenantID int64, req stockhandler.ListStockRequest) (*stockhandler.ListStockResponse, error)
	UpdateStockDetails(ctx context.Context, tenantID, stockID int64, req stockhandler.UpdateStockRequest) (*models.StockRecord, error)
	DeleteStock(ctx context.Context, tenantID, stockID int64) error
	AdjustStock(ctx context.Context, tenantID, stockID, actorID int64, req stockhandler.AdjustStockRequest) (*models.StockRecord, error)
	ListMovements(ctx context.Context, tenantID, stockID int64, p utils.Pagination) (*stockhandler.ListMovementsResponse, error)
}

type StockHTTPHandler struct {
	stocks StockService
}

func NewStockHTTPHandler(stocks StockService) *StockHTTPHandler {
	return &StockHTTPHandler{stocks: stocks}
}

func (h *StockHTTPHandler) CreateStock(c *gin.Context) {
	var req stockhandler.CreateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	stock, err := h.stocks.CreateStock(ctx, tenantID, userID, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Stock record created", stock))
}

func (h *StockHTTPHandler) ListStock(c *gin.Context) {
	var req stockhandler.ListStockRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	resp, err := h.stocks.ListStock(ctx, tenantID, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Stock records retrieved", resp.Stocks, resp.Pagination))
}

func (h *StockHTTPHandler) GetStock(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	stock, err := h.stocks.GetStock(ctx, tenantID, id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stock record retrieved", stock))
}

func (h *StockHTTPHandler) GetQuantity(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	quantity, err := h.stocks.GetQuantity(ctx, tenantID, id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stock quantity retrieved", gin.H{
		"stock_record_id": id,
		"quantity":        quantity,
	}))
}

func (h *StockHTTPHandler) UpdateStock(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req stockhandler.UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	stock, err := h.stocks.UpdateStockDetails(ctx, tenantID, id, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stock record updated", stock))
}

func (h *StockHTTPHandler) DeleteStock(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	if err := h.stocks.DeleteStock(ctx, tenantID, id); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stock record deleted", nil))
}

func (h *StockHTTPHandler) AdjustStock(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req stockhandler.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	stock, err := h.stocks.AdjustStock(ctx, tenantID, id, userID, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stock adjusted", stock))
}

func (h *StockHTTPHandler) ListMovements(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	resp, err := h.stocks.ListMovements(ctx, tenantID, id, p)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Stock movements retrieved", resp.Movements, resp.Pagination))
}
