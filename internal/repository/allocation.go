package repository

import (
	"context"

	"despacho/internal/domain"
)

// AllocationRepository defines the persistence operations for client
// allocations.
type AllocationRepository interface {
	// Create persists a new allocation.
	Create(ctx context.Context, allocation *domain.ClientAllocation) error

	// GetByID retrieves an allocation by ID.
	GetByID(ctx context.Context, id string) (*domain.ClientAllocation, error)

	// ListByLedgerID retrieves all allocations under a ledger, ordered by
	// sequence index.
	ListByLedgerID(ctx context.Context, ledgerID string) ([]*domain.ClientAllocation, error)

	// Update updates an existing allocation.
	Update(ctx context.Context, allocation *domain.ClientAllocation) error
}

// EvidenceRepository stores references to uploaded evidence files.
type EvidenceRepository interface {
	// Create persists an evidence reference.
	Create(ctx context.Context, item *domain.EvidenceItem) error

	// ListByAllocationID retrieves evidence for an allocation.
	ListByAllocationID(ctx context.Context, allocationID string) ([]*domain.EvidenceItem, error)
}
