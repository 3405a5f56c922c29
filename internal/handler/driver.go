package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"despacho/internal/domain"
	internalRedis "despacho/internal/redis"
	"despacho/internal/service"
)

// DriverHandler handles driver-facing HTTP requests: location updates,
// active-assignment lookups, and the dispatcher's fleet position view.
type DriverHandler struct {
	reconciliationService *service.ReconciliationService
	tripService           *service.TripService
	ledgerService         *service.LedgerService
	locationStore         internalRedis.LocationStoreInterface
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(
	reconciliationService *service.ReconciliationService,
	tripService *service.TripService,
	ledgerService *service.LedgerService,
	locationStore internalRedis.LocationStoreInterface,
) *DriverHandler {
	return &DriverHandler{
		reconciliationService: reconciliationService,
		tripService:           tripService,
		ledgerService:         ledgerService,
		locationStore:         locationStore,
	}
}

// UpdateLocationRequest is the HTTP request for a location update.
type UpdateLocationRequest struct {
	Lat       float64 `json:"lat" binding:"required"`
	Lng       float64 `json:"lng" binding:"required"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// UpdateLocation handles POST /v1/drivers/:id/location. Location updates are
// routed through the reconciliation gate like every other queued mutation so
// replays deduplicate on the idempotency key.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	driverID := c.Param("id")

	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	at := time.Now()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid timestamp"})
			return
		}
		at = parsed
	}

	payload, err := json.Marshal(domain.UpdateLocationPayload{
		DriverID: driverID,
		Location: domain.Location{Lat: req.Lat, Lng: req.Lng, Timestamp: at},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	outcome, err := h.reconciliationService.Apply(c.Request.Context(), &domain.SyncOperation{
		ID:        operationID(c),
		DriverID:  driverID,
		Kind:      domain.SyncOpUpdateLocation,
		Payload:   payload,
		CreatedAt: at,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", outcome.Result)
}

// GetActiveTrip handles GET /v1/drivers/:id/trip.
func (h *DriverHandler) GetActiveTrip(c *gin.Context) {
	trip, err := h.tripService.GetActiveTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if trip == nil {
		respondJSON(c, http.StatusOK, gin.H{"trip": nil})
		return
	}

	respondJSON(c, http.StatusOK, tripResponse(trip))
}

// GetActiveAssignment handles GET /v1/drivers/:id/assignment. Devices call
// this on startup to find the open ledger assigned to the driver.
func (h *DriverHandler) GetActiveAssignment(c *gin.Context) {
	snapshot, err := h.ledgerService.GetActiveForDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if snapshot == nil {
		respondJSON(c, http.StatusOK, gin.H{"ledger": nil})
		return
	}

	respondJSON(c, http.StatusOK, ledgerResponseFromSnapshot(snapshot))
}

// ClearLocation handles DELETE /v1/drivers/:id/location. Devices call it on
// trip end so the driver drops off the dispatcher's fleet view.
func (h *DriverHandler) ClearLocation(c *gin.Context) {
	if err := h.locationStore.RemoveLocation(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"status": "removed"})
}

// NearbyDriverResponse is one entry in the fleet position view.
type NearbyDriverResponse struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	LastSeen string  `json:"last_seen,omitempty"`
}

// FindNearby handles GET /v1/fleet/nearby?lat=&lng=&radius_km=. Dispatchers
// use it to see which trucks are working an area.
func (h *DriverHandler) FindNearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}

	radiusKm := 10.0
	if raw := c.Query("radius_km"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			respondJSON(c, http.StatusBadRequest, ErrorResponse{Error: "invalid radius_km"})
			return
		}
		radiusKm = parsed
	}

	locations, err := h.locationStore.FindNearbyDrivers(c.Request.Context(), lat, lng, radiusKm)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]NearbyDriverResponse, 0, len(locations))
	for _, loc := range locations {
		entry := NearbyDriverResponse{DriverID: loc.DriverID, Lat: loc.Lat, Lng: loc.Lng}
		if seen, err := h.locationStore.LastSeen(c.Request.Context(), loc.DriverID); err == nil && !seen.IsZero() {
			entry.LastSeen = seen.Format(time.RFC3339)
		}
		out = append(out, entry)
	}

	respondJSON(c, http.StatusOK, gin.H{"drivers": out})
}
