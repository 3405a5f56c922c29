package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"despacho/internal/domain"
	"despacho/internal/service"
)

func newTripFixture() (*service.TripService, *MockTripRepository, *MockLedgerRepository, *MockAllocationRepository) {
	tripRepo := NewMockTripRepository()
	ledgerRepo := NewMockLedgerRepository()
	allocRepo := NewMockAllocationRepository()
	return service.NewTripService(tripRepo, ledgerRepo, allocRepo), tripRepo, ledgerRepo, allocRepo
}

func openLedger(id, driverID string) *domain.FuelLedger {
	return &domain.FuelLedger{
		ID:             id,
		TruckID:        "truck-1",
		DriverID:       driverID,
		FuelType:       "diesel",
		TotalLoaded:    decimal.NewFromInt(2000),
		TotalRemaining: decimal.NewFromInt(2000),
		Version:        1,
	}
}

func TestStartTrip_CreatesActiveTrip(t *testing.T) {
	ctx := context.Background()
	tripService, tripRepo, ledgerRepo, _ := newTripFixture()
	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))

	trip, err := tripService.StartTrip(ctx, service.StartTripRequest{
		LedgerID: "ledger-1",
		DriverID: "driver-1",
	})
	if err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	if trip.Status != domain.TripStatusActive {
		t.Errorf("expected ACTIVE trip, got %s", trip.Status)
	}
	if trip.LedgerID != "ledger-1" || trip.DriverID != "driver-1" {
		t.Errorf("trip bound to wrong ledger/driver: %+v", trip)
	}
	if tripRepo.CreateCallCount != 1 {
		t.Errorf("expected 1 create call, got %d", tripRepo.CreateCallCount)
	}
}

func TestStartTrip_RejectsSecondActiveTrip(t *testing.T) {
	ctx := context.Background()
	tripService, _, ledgerRepo, _ := newTripFixture()
	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	ledgerRepo.AddLedger(openLedger("ledger-2", "driver-1"))

	if _, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-1", DriverID: "driver-1"}); err != nil {
		t.Fatalf("failed to start first trip: %v", err)
	}

	_, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-2", DriverID: "driver-1"})
	if !errors.Is(err, service.ErrDriverHasActiveTrip) {
		t.Errorf("expected ErrDriverHasActiveTrip, got %v", err)
	}
}

func TestStartTrip_RejectsCompletedLedger(t *testing.T) {
	ctx := context.Background()
	tripService, _, ledgerRepo, _ := newTripFixture()

	ledger := openLedger("ledger-1", "driver-1")
	ledger.IsCompleted = true
	ledgerRepo.AddLedger(ledger)

	_, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-1", DriverID: "driver-1"})
	if !errors.Is(err, service.ErrLedgerCompleted) {
		t.Errorf("expected ErrLedgerCompleted, got %v", err)
	}
}

func TestStartTrip_RejectsForeignLedger(t *testing.T) {
	ctx := context.Background()
	tripService, _, ledgerRepo, _ := newTripFixture()
	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))

	_, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-1", DriverID: "driver-2"})
	if !errors.Is(err, service.ErrInvalidDriverID) {
		t.Errorf("expected ErrInvalidDriverID for a ledger assigned to another driver, got %v", err)
	}
}

func TestEndTrip_BlockedByOpenAllocations(t *testing.T) {
	ctx := context.Background()
	tripService, _, ledgerRepo, allocRepo := newTripFixture()
	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	allocRepo.AddAllocation(&domain.ClientAllocation{
		ID:       "alloc-1",
		LedgerID: "ledger-1",
		Status:   domain.AllocationStatusInProgress,
	})

	trip, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-1", DriverID: "driver-1"})
	if err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	_, err = tripService.EndTrip(ctx, service.EndTripRequest{TripID: trip.ID})
	if !errors.Is(err, service.ErrCannotEndActiveTrip) {
		t.Errorf("expected ErrCannotEndActiveTrip, got %v", err)
	}
}

func TestEndTrip_CompletesOnceAllocationsSettle(t *testing.T) {
	ctx := context.Background()
	tripService, _, ledgerRepo, allocRepo := newTripFixture()
	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	allocRepo.AddAllocation(&domain.ClientAllocation{
		ID:       "alloc-1",
		LedgerID: "ledger-1",
		Status:   domain.AllocationStatusCompleted,
	})
	allocRepo.AddAllocation(&domain.ClientAllocation{
		ID:            "alloc-2",
		LedgerID:      "ledger-1",
		SequenceIndex: 1,
		Status:        domain.AllocationStatusCancelled,
	})

	trip, err := tripService.StartTrip(ctx, service.StartTripRequest{LedgerID: "ledger-1", DriverID: "driver-1"})
	if err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	ended, err := tripService.EndTrip(ctx, service.EndTripRequest{TripID: trip.ID})
	if err != nil {
		t.Fatalf("failed to end trip: %v", err)
	}
	if ended.Status != domain.TripStatusCompleted {
		t.Errorf("expected COMPLETED trip, got %s", ended.Status)
	}
	if ended.EndedAt.IsZero() {
		t.Error("expected EndedAt to be set")
	}

	// Ending twice is rejected.
	_, err = tripService.EndTrip(ctx, service.EndTripRequest{TripID: trip.ID})
	if !errors.Is(err, service.ErrTripAlreadyEnded) {
		t.Errorf("expected ErrTripAlreadyEnded, got %v", err)
	}

	// And the driver is free for a new trip.
	active, err := tripService.GetActiveTrip(ctx, "driver-1")
	if err != nil {
		t.Fatalf("failed to query active trip: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active trip after ending, got %s", active.ID)
	}
}
