package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"bbsm-garage/internal/database/models"
	cardhandler "bbsm-garage/internal/services/card/handler"
)

type RecordService interface {
	CreateRecord(ctx context.Context, tenantID, actorID int64, kind string, req cardhandler.CreateRecordRequest) (*models.ServiceRecord, error)
	GetRecord(ctx context.Context, tenantID, recordID int64, kind string) (*models.ServiceRecord, error)
	ListRecords(ctx context.Context, tenantID int64, kind string, req cardhandler.ListRecordsRequest) (*cardhandler.ListRecordsResponse, error)
	UpdateRecordDetails(ctx context.Context, tenantID, recordID int64, kind string, req cardhandler.UpdateRecordRequest) (*models.ServiceRecord, error)
	ReplaceWorkItems(ctx context.Context, tenantID, recordID, actorID int64, kind string, inputs []cardhandler.WorkItemInput) (*models.ServiceRecord, error)
	DeleteRecord(ctx context.Context, tenantID, recordID, actorID int64, kind string) error
	ConvertQuoteToCard(ctx context.Context, tenantID, recordID int64) (*models.ServiceRecord, error)
}

type ReplaceWorkItemsRequest struct {
	WorkItems []cardhandler.WorkItemInput `json:"work_items"`
}

// RecordHTTPHandler serves one kind of service record; cards and quotes
// each get their own instance.
type RecordHTTPHandler struct {
	records RecordService
	kind    string
	label   string
}

func NewRecordHTTPHandler(records RecordService, kind string) *RecordHTTPHandler {
	label := "Card"
	if kind == models.KindQuote {
		label = "Quote"
	}
	return &RecordHTTPHandler{records: records, kind: kind, label: label}
}

func (h *RecordHTTPHandler) CreateRecord(c *gin.Context) {
	var req cardhandler.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	record, err := h.records.CreateRecord(ctx, tenantID, userID, h.kind, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(h.label+" created", record))
}

func (h *RecordHTTPHandler) ListRecords(c *gin.Context) {
	var req cardhandler.ListRecordsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	resp, err := h.records.ListRecords(ctx, tenantID, h.kind, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse(h.label+"s retrieved", resp.Records, resp.Pagination))
}

func (h *RecordHTTPHandler) GetRecord(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	record, err := h.records.GetRecord(ctx, tenantID, id, h.kind)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(h.label+" retrieved", record))
}

func (h *RecordHTTPHandler) UpdateRecord(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req cardhandler.UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	record, err := h.records.UpdateRecordDetails(ctx, tenantID, id, h.kind, req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(h.label+" updated", record))
}

func (h *RecordHTTPHandler) ReplaceWorkItems(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req ReplaceWorkItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	record, err := h.records.ReplaceWorkItems(ctx, tenantID, id, userID, h.kind, req.WorkItems)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Work items updated", record))
}

func (h *RecordHTTPHandler) DeleteRecord(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	if err := h.records.DeleteRecord(ctx, tenantID, id, userID, h.kind); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(h.label+" deleted", nil))
}

func (h *RecordHTTPHandler) ConvertQuote(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, _ := identity(c)
	record, err := h.records.ConvertQuoteToCard(ctx, tenantID, id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Quote converted to card", record))
}
