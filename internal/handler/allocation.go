package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"despacho/internal/domain"
	"despacho/internal/service"
)

// AllocationHandler handles the per-customer delivery endpoints under
// /v1/assignments.
type AllocationHandler struct {
	reconciliationService *service.ReconciliationService
	ledgerService         *service.LedgerService
}

// NewAllocationHandler creates a new AllocationHandler.
func NewAllocationHandler(reconciliationService *service.ReconciliationService, ledgerService *service.LedgerService) *AllocationHandler {
	return &AllocationHandler{
		reconciliationService: reconciliationService,
		ledgerService:         ledgerService,
	}
}

// UpdateAllocationRequest is the body of
// POST /v1/assignments/:ledgerId/clients/:allocationId.
type UpdateAllocationRequest struct {
	Status            string `json:"status" binding:"required"`
	DeliveredQuantity string `json:"delivered_quantity,omitempty"`
	MarkerInitial     string `json:"marker_initial,omitempty"`
	MarkerFinal       string `json:"marker_final,omitempty"`
}

// UpdateAllocation handles POST /v1/assignments/:ledgerId/clients/:allocationId.
// status=IN_PROGRESS starts the delivery (sequencer permitting);
// status=COMPLETED reconciles it against the ledger. Completion goes through
// the reconciliation gate so queued offline completions and direct online
// calls share one validation path and one idempotency store.
func (h *AllocationHandler) UpdateAllocation(c *gin.Context) {
	ledgerID := c.Param("ledgerId")
	allocationID := c.Param("allocationId")

	var req UpdateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	switch domain.AllocationStatus(req.Status) {
	case domain.AllocationStatusInProgress:
		snapshot, err := h.reconciliationService.StartDelivery(c.Request.Context(), ledgerID, allocationID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondJSON(c, http.StatusOK, ledgerResponseFromSnapshot(snapshot))

	case domain.AllocationStatusCompleted:
		payload, err := json.Marshal(domain.CompleteDeliveryPayload{
			LedgerID:          ledgerID,
			AllocationID:      allocationID,
			MarkerInitial:     req.MarkerInitial,
			MarkerFinal:       req.MarkerFinal,
			DeliveredQuantity: req.DeliveredQuantity,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		outcome, err := h.reconciliationService.Apply(c.Request.Context(), &domain.SyncOperation{
			ID:        operationID(c),
			Kind:      domain.SyncOpCompleteDelivery,
			Payload:   payload,
			CreatedAt: time.Now(),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", outcome.Result)

	default:
		respondError(c, service.ErrInvalidAllocationState)
	}
}

// CancelAllocation handles POST /v1/assignments/:ledgerId/clients/:allocationId/cancel.
func (h *AllocationHandler) CancelAllocation(c *gin.Context) {
	snapshot, err := h.ledgerService.CancelAllocation(c.Request.Context(), c.Param("ledgerId"), c.Param("allocationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ledgerResponseFromSnapshot(snapshot))
}

// AttachEvidenceRequest is the body of the evidence endpoint.
type AttachEvidenceRequest struct {
	Stage string `json:"stage" binding:"required"`
	URL   string `json:"url" binding:"required"`
}

// AttachEvidence handles
// POST /v1/assignments/:ledgerId/clients/:allocationId/evidence.
func (h *AllocationHandler) AttachEvidence(c *gin.Context) {
	var req AttachEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	payload, err := json.Marshal(domain.AttachEvidencePayload{
		LedgerID:     c.Param("ledgerId"),
		AllocationID: c.Param("allocationId"),
		Stage:        domain.EvidenceStage(req.Stage),
		URL:          req.URL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	outcome, err := h.reconciliationService.Apply(c.Request.Context(), &domain.SyncOperation{
		ID:        operationID(c),
		Kind:      domain.SyncOpAttachEvidence,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", outcome.Result)
}

// EvidenceItemResponse is one stored evidence reference.
type EvidenceItemResponse struct {
	ID         string `json:"id"`
	Stage      string `json:"stage"`
	URL        string `json:"url"`
	CapturedAt string `json:"captured_at"`
}

// ListEvidence handles
// GET /v1/assignments/:ledgerId/clients/:allocationId/evidence.
func (h *AllocationHandler) ListEvidence(c *gin.Context) {
	items, err := h.ledgerService.ListEvidence(c.Request.Context(), c.Param("ledgerId"), c.Param("allocationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]EvidenceItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, EvidenceItemResponse{
			ID:         item.ID,
			Stage:      string(item.Stage),
			URL:        item.URL,
			CapturedAt: item.CapturedAt.Format(time.RFC3339),
		})
	}

	respondJSON(c, http.StatusOK, gin.H{"evidence": out})
}

// operationID extracts the client's idempotency key, generating one for
// callers that did not send the header (online direct calls from dashboards).
func operationID(c *gin.Context) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return uuid.New().String()
}
