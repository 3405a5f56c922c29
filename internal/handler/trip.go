package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"despacho/internal/domain"
	"despacho/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	TripID    string `json:"trip_id"`
	LedgerID  string `json:"ledger_id"`
	DriverID  string `json:"driver_id"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// StartTripRequest is the HTTP request for starting a trip.
type StartTripRequest struct {
	LedgerID string `json:"ledger_id" binding:"required"`
	DriverID string `json:"driver_id" binding:"required"`
}

// StartTrip handles POST /v1/trips
func (h *TripHandler) StartTrip(c *gin.Context) {
	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	trip, err := h.tripService.StartTrip(c.Request.Context(), service.StartTripRequest{
		LedgerID: req.LedgerID,
		DriverID: req.DriverID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, tripResponse(trip))
}

// EndTrip handles POST /v1/trips/:id/end
func (h *TripHandler) EndTrip(c *gin.Context) {
	trip, err := h.tripService.EndTrip(c.Request.Context(), service.EndTripRequest{
		TripID: c.Param("id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.tripService.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tripResponse(trip))
}

func tripResponse(trip *domain.Trip) TripResponse {
	response := TripResponse{
		TripID:    trip.ID,
		LedgerID:  trip.LedgerID,
		DriverID:  trip.DriverID,
		Status:    string(trip.Status),
		StartedAt: trip.StartedAt.Format(time.RFC3339),
	}

	if !trip.EndedAt.IsZero() {
		response.EndedAt = trip.EndedAt.Format(time.RFC3339)
	}

	return response
}
