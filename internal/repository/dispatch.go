package repository

import (
	"context"

	"despacho/internal/domain"
)

// DispatchRepository defines the persistence operations for dispatch audit
// records. Records are append-only: there is no update or delete.
type DispatchRepository interface {
	// Create persists a new dispatch record.
	Create(ctx context.Context, record *domain.DispatchRecord) error

	// ListByDriverID retrieves dispatch records for a driver, newest first.
	ListByDriverID(ctx context.Context, driverID string) ([]*domain.DispatchRecord, error)
}
