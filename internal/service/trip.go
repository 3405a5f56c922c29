package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// TripService handles the server-side trip records that back the one-active-
// trip-per-driver rule. The live queue and staged evidence are device state.
type TripService struct {
	tripRepo   repository.TripRepository
	ledgerRepo repository.LedgerRepository
	allocRepo  repository.AllocationRepository
}

// NewTripService creates a new TripService.
func NewTripService(
	tripRepo repository.TripRepository,
	ledgerRepo repository.LedgerRepository,
	allocRepo repository.AllocationRepository,
) *TripService {
	return &TripService{
		tripRepo:   tripRepo,
		ledgerRepo: ledgerRepo,
		allocRepo:  allocRepo,
	}
}

// StartTripRequest contains the parameters for starting a trip.
type StartTripRequest struct {
	LedgerID string
	DriverID string
}

// StartTrip registers the beginning of a driver's trip over a ledger.
func (s *TripService) StartTrip(ctx context.Context, req StartTripRequest) (*domain.Trip, error) {
	if req.LedgerID == "" {
		return nil, ErrInvalidLedgerID
	}

	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	existingTrip, err := s.tripRepo.GetActiveByDriverID(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}

	if existingTrip != nil {
		return nil, ErrDriverHasActiveTrip
	}

	ledger, err := s.ledgerRepo.GetByID(ctx, req.LedgerID)
	if err != nil {
		return nil, err
	}

	if ledger.IsCompleted {
		return nil, ErrLedgerCompleted
	}

	if ledger.DriverID != req.DriverID {
		return nil, ErrInvalidDriverID
	}

	trip := &domain.Trip{
		ID:        uuid.New().String(),
		LedgerID:  req.LedgerID,
		DriverID:  req.DriverID,
		Status:    domain.TripStatusActive,
		StartedAt: time.Now(),
	}

	if err := s.tripRepo.Create(ctx, trip); err != nil {
		return nil, err
	}

	return trip, nil
}

// EndTripRequest contains the parameters for ending a trip.
type EndTripRequest struct {
	TripID string
}

// EndTrip ends a trip. Only permitted once every allocation under the trip's
// ledger is terminal.
func (s *TripService) EndTrip(ctx context.Context, req EndTripRequest) (*domain.Trip, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}

	trip, err := s.tripRepo.GetByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	if trip.Status == domain.TripStatusCompleted {
		return nil, ErrTripAlreadyEnded
	}

	allocations, err := s.allocRepo.ListByLedgerID(ctx, trip.LedgerID)
	if err != nil {
		return nil, err
	}

	for _, a := range allocations {
		if !a.IsTerminal() {
			return nil, ErrCannotEndActiveTrip
		}
	}

	trip.Status = domain.TripStatusCompleted
	trip.EndedAt = time.Now()

	if err := s.tripRepo.Update(ctx, trip); err != nil {
		return nil, err
	}

	return trip, nil
}

// GetTrip retrieves a trip by ID.
func (s *TripService) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	return s.tripRepo.GetByID(ctx, tripID)
}

// GetActiveTrip retrieves a driver's active trip, or nil.
func (s *TripService) GetActiveTrip(ctx context.Context, driverID string) (*domain.Trip, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	return s.tripRepo.GetActiveByDriverID(ctx, driverID)
}
