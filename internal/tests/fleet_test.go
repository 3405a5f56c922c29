package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"despacho/internal/handler"
)

func newFleetRouter(locationStore *MockLocationStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	driverHandler := handler.NewDriverHandler(nil, nil, nil, locationStore)

	router := gin.New()
	router.GET("/v1/fleet/nearby", driverHandler.FindNearby)
	router.DELETE("/v1/drivers/:id/location", driverHandler.ClearLocation)
	return router
}

func TestFindNearby_ListsDriverPositions(t *testing.T) {
	locationStore := NewMockLocationStore()
	seen := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if err := locationStore.UpdateLocation(context.Background(), "driver-1", 12.97, 77.59, seen); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	router := newFleetRouter(locationStore)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/fleet/nearby?lat=12.97&lng=77.59&radius_km=5", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Drivers []handler.NearbyDriverResponse `json:"drivers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Drivers) != 1 {
		t.Fatalf("expected 1 driver, got %d", len(resp.Drivers))
	}
	if resp.Drivers[0].DriverID != "driver-1" {
		t.Errorf("expected driver-1, got %s", resp.Drivers[0].DriverID)
	}
	if resp.Drivers[0].LastSeen == "" {
		t.Error("expected last_seen to be populated from the location fix")
	}
}

func TestFindNearby_RequiresCoordinates(t *testing.T) {
	router := newFleetRouter(NewMockLocationStore())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/fleet/nearby", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without lat/lng, got %d", rec.Code)
	}
}

func TestClearLocation_RemovesDriverFromFleetView(t *testing.T) {
	locationStore := NewMockLocationStore()
	if err := locationStore.UpdateLocation(context.Background(), "driver-1", 12.97, 77.59, time.Now()); err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}

	router := newFleetRouter(locationStore)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/drivers/driver-1/location", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	remaining, err := locationStore.FindNearbyDrivers(context.Background(), 12.97, 77.59, 5)
	if err != nil {
		t.Fatalf("failed to read fleet view: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected driver removed from fleet view, got %d entries", len(remaining))
	}
}
