package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// DispatchService records append-only dispatch (despacho) audit entries.
type DispatchService struct {
	dispatchRepo  repository.DispatchRepository
	directoryRepo repository.DirectoryRepository
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(dispatchRepo repository.DispatchRepository, directoryRepo repository.DirectoryRepository) *DispatchService {
	return &DispatchService{dispatchRepo: dispatchRepo, directoryRepo: directoryRepo}
}

// CreateRecordRequest contains the parameters for creating a dispatch record.
type CreateRecordRequest struct {
	DriverID string
	LedgerID string
	Detail   json.RawMessage
}

// CreateRecord appends a dispatch record for a driver.
func (s *DispatchService) CreateRecord(ctx context.Context, req CreateRecordRequest) (*domain.DispatchRecord, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	if s.directoryRepo != nil {
		if _, err := s.directoryRepo.GetDriver(ctx, req.DriverID); err != nil {
			return nil, err
		}
	}

	detail := req.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}

	record := &domain.DispatchRecord{
		ID:        uuid.New().String(),
		DriverID:  req.DriverID,
		LedgerID:  req.LedgerID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}

	if err := s.dispatchRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// ListRecords retrieves a driver's dispatch history, newest first.
func (s *DispatchService) ListRecords(ctx context.Context, driverID string) ([]*domain.DispatchRecord, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	return s.dispatchRepo.ListByDriverID(ctx, driverID)
}
