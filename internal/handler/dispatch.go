package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"despacho/internal/domain"
	"despacho/internal/service"
)

// DispatchHandler handles the append-only despacho audit endpoints.
type DispatchHandler struct {
	dispatchService *service.DispatchService
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(dispatchService *service.DispatchService) *DispatchHandler {
	return &DispatchHandler{dispatchService: dispatchService}
}

// CreateDispatchRequest is the HTTP request for creating a dispatch record.
type CreateDispatchRequest struct {
	LedgerID string          `json:"ledger_id,omitempty"`
	Detail   json.RawMessage `json:"detail,omitempty"`
}

// DispatchResponse is the HTTP response for dispatch records.
type DispatchResponse struct {
	ID        string          `json:"id"`
	DriverID  string          `json:"driver_id"`
	LedgerID  string          `json:"ledger_id,omitempty"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt string          `json:"created_at"`
}

// CreateRecord handles POST /v1/despacho/:driverId
func (h *DispatchHandler) CreateRecord(c *gin.Context) {
	var req CreateDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	record, err := h.dispatchService.CreateRecord(c.Request.Context(), service.CreateRecordRequest{
		DriverID: c.Param("driverId"),
		LedgerID: req.LedgerID,
		Detail:   req.Detail,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, dispatchResponse(record))
}

// ListRecords handles GET /v1/despacho/:driverId
func (h *DispatchHandler) ListRecords(c *gin.Context) {
	records, err := h.dispatchService.ListRecords(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]DispatchResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, dispatchResponse(record))
	}

	respondJSON(c, http.StatusOK, responses)
}

func dispatchResponse(record *domain.DispatchRecord) DispatchResponse {
	return DispatchResponse{
		ID:        record.ID,
		DriverID:  record.DriverID,
		LedgerID:  record.LedgerID,
		Detail:    record.Detail,
		CreatedAt: record.CreatedAt.Format(time.RFC3339),
	}
}
