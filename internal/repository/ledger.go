package repository

import (
	"context"

	"despacho/internal/domain"
)

// LedgerRepository defines the persistence operations for fuel ledgers.
type LedgerRepository interface {
	// Create persists a new ledger.
	Create(ctx context.Context, ledger *domain.FuelLedger) error

	// GetByID retrieves a ledger by ID.
	GetByID(ctx context.Context, id string) (*domain.FuelLedger, error)

	// GetActiveByDriverID retrieves the open (not completed) ledger assigned
	// to a driver. Returns nil if none exists.
	GetActiveByDriverID(ctx context.Context, driverID string) (*domain.FuelLedger, error)

	// List retrieves ledgers, optionally filtered to completed (history) or
	// open ones. completed == nil means no filter.
	List(ctx context.Context, completed *bool) ([]*domain.FuelLedger, error)

	// UpdateWithVersion writes the ledger only if the stored version still
	// matches expectedVersion, bumping the version on success. Returns
	// ErrVersionConflict when another writer got there first.
	UpdateWithVersion(ctx context.Context, ledger *domain.FuelLedger, expectedVersion int64) error
}
