package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"despacho/internal/domain"
	"despacho/internal/service"
)

// LedgerHandler handles HTTP requests for fuel ledgers.
type LedgerHandler struct {
	ledgerService *service.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerService *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// CreateLedgerRequest is the HTTP request for creating a ledger.
type CreateLedgerRequest struct {
	TruckID     string                    `json:"truck_id" binding:"required"`
	DriverID    string                    `json:"driver_id" binding:"required"`
	FuelType    string                    `json:"fuel_type" binding:"required"`
	TotalLoaded string                    `json:"total_loaded" binding:"required"`
	Allocations []CreateAllocationRequest `json:"allocations" binding:"required"`
}

// CreateAllocationRequest is one planned delivery in a create request.
type CreateAllocationRequest struct {
	CustomerID        string `json:"customer_id" binding:"required"`
	AllocatedQuantity string `json:"allocated_quantity" binding:"required"`
}

// LedgerResponse is the HTTP response for ledger operations.
type LedgerResponse struct {
	ID             string               `json:"id"`
	TruckID        string               `json:"truck_id"`
	DriverID       string               `json:"driver_id"`
	FuelType       string               `json:"fuel_type"`
	TotalLoaded    string               `json:"total_loaded"`
	TotalRemaining string               `json:"total_remaining"`
	IsCompleted    bool                 `json:"is_completed"`
	Version        int64                `json:"version"`
	CreatedAt      string               `json:"created_at"`
	CompletedAt    string               `json:"completed_at,omitempty"`
	Allocations    []AllocationResponse `json:"allocations,omitempty"`
}

// AllocationResponse is one allocation in a ledger response.
type AllocationResponse struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	SequenceIndex     int    `json:"sequence_index"`
	AllocatedQuantity string `json:"allocated_quantity"`
	DeliveredQuantity string `json:"delivered_quantity,omitempty"`
	Status            string `json:"status"`
	MarkerInitial     string `json:"marker_initial,omitempty"`
	MarkerFinal       string `json:"marker_final,omitempty"`
}

// CreateLedger handles POST /v1/ledgers
func (h *LedgerHandler) CreateLedger(c *gin.Context) {
	var req CreateLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	totalLoaded, err := decimal.NewFromString(req.TotalLoaded)
	if err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid total_loaded"})
		return
	}

	specs := make([]service.AllocationSpec, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		quantity, err := decimal.NewFromString(a.AllocatedQuantity)
		if err != nil {
			respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid allocated_quantity"})
			return
		}
		specs = append(specs, service.AllocationSpec{
			CustomerID:        a.CustomerID,
			AllocatedQuantity: quantity,
		})
	}

	snapshot, err := h.ledgerService.CreateLedger(c.Request.Context(), service.CreateLedgerRequest{
		TruckID:     req.TruckID,
		DriverID:    req.DriverID,
		FuelType:    req.FuelType,
		TotalLoaded: totalLoaded,
		Allocations: specs,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, ledgerResponseFromSnapshot(snapshot))
}

// GetLedger handles GET /v1/ledgers/:id
func (h *LedgerHandler) GetLedger(c *gin.Context) {
	snapshot, err := h.ledgerService.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ledgerResponseFromSnapshot(snapshot))
}

// GetAll handles GET /v1/ledgers. ?completed=true lists archived ledgers.
func (h *LedgerHandler) GetAll(c *gin.Context) {
	var completed *bool
	if v, ok := c.GetQuery("completed"); ok {
		b := v == "true" || v == "1"
		completed = &b
	}

	ledgers, err := h.ledgerService.List(c.Request.Context(), completed)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]LedgerResponse, 0, len(ledgers))
	for _, ledger := range ledgers {
		responses = append(responses, ledgerResponse(ledger, nil))
	}

	respondJSON(c, http.StatusOK, responses)
}

func ledgerResponseFromSnapshot(snapshot *domain.LedgerSnapshot) LedgerResponse {
	return ledgerResponse(snapshot.Ledger, snapshot.Allocations)
}

func ledgerResponse(ledger *domain.FuelLedger, allocations []*domain.ClientAllocation) LedgerResponse {
	response := LedgerResponse{
		ID:             ledger.ID,
		TruckID:        ledger.TruckID,
		DriverID:       ledger.DriverID,
		FuelType:       ledger.FuelType,
		TotalLoaded:    ledger.TotalLoaded.String(),
		TotalRemaining: ledger.TotalRemaining.String(),
		IsCompleted:    ledger.IsCompleted,
		Version:        ledger.Version,
		CreatedAt:      ledger.CreatedAt.Format(time.RFC3339),
	}

	if !ledger.CompletedAt.IsZero() {
		response.CompletedAt = ledger.CompletedAt.Format(time.RFC3339)
	}

	for _, a := range allocations {
		response.Allocations = append(response.Allocations, allocationResponse(a))
	}

	return response
}

func allocationResponse(a *domain.ClientAllocation) AllocationResponse {
	response := AllocationResponse{
		ID:                a.ID,
		CustomerID:        a.CustomerID,
		SequenceIndex:     a.SequenceIndex,
		AllocatedQuantity: a.AllocatedQuantity.String(),
		Status:            string(a.Status),
	}

	if a.DeliveredQuantity.Valid {
		response.DeliveredQuantity = a.DeliveredQuantity.Decimal.String()
	}
	if a.MarkerInitial.Valid {
		response.MarkerInitial = a.MarkerInitial.Decimal.String()
	}
	if a.MarkerFinal.Valid {
		response.MarkerFinal = a.MarkerFinal.Decimal.String()
	}

	return response
}
