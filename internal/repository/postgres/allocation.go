package postgres

import (
	"context"
	"database/sql"
	"errors"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// AllocationRepository is a PostgreSQL implementation of
// repository.AllocationRepository.
type AllocationRepository struct {
	q Querier
}

// NewAllocationRepository creates a new PostgreSQL allocation repository.
func NewAllocationRepository(db *sql.DB) *AllocationRepository {
	return &AllocationRepository{q: db}
}

// NewAllocationRepositoryWithTx creates an allocation repository using a transaction.
func NewAllocationRepositoryWithTx(tx *sql.Tx) *AllocationRepository {
	return &AllocationRepository{q: tx}
}

const allocationColumns = `id, ledger_id, customer_id, sequence_index, allocated_quantity, delivered_quantity, status, marker_initial, marker_final, completed_at`

// Create persists a new allocation.
func (r *AllocationRepository) Create(ctx context.Context, allocation *domain.ClientAllocation) error {
	query := `
		INSERT INTO client_allocations (` + allocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var completedAt sql.NullTime
	if !allocation.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: allocation.CompletedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		allocation.ID,
		allocation.LedgerID,
		allocation.CustomerID,
		allocation.SequenceIndex,
		allocation.AllocatedQuantity,
		allocation.DeliveredQuantity,
		allocation.Status,
		allocation.MarkerInitial,
		allocation.MarkerFinal,
		completedAt,
	)

	return err
}

func scanAllocation(row interface{ Scan(...any) error }) (*domain.ClientAllocation, error) {
	var allocation domain.ClientAllocation
	var completedAt sql.NullTime

	err := row.Scan(
		&allocation.ID,
		&allocation.LedgerID,
		&allocation.CustomerID,
		&allocation.SequenceIndex,
		&allocation.AllocatedQuantity,
		&allocation.DeliveredQuantity,
		&allocation.Status,
		&allocation.MarkerInitial,
		&allocation.MarkerFinal,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		allocation.CompletedAt = completedAt.Time
	}

	return &allocation, nil
}

// GetByID retrieves an allocation by ID.
func (r *AllocationRepository) GetByID(ctx context.Context, id string) (*domain.ClientAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM client_allocations WHERE id = $1`

	allocation, err := scanAllocation(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return allocation, nil
}

// ListByLedgerID retrieves all allocations under a ledger ordered by
// sequence index. The ordering here is what the sequencer trusts.
func (r *AllocationRepository) ListByLedgerID(ctx context.Context, ledgerID string) ([]*domain.ClientAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM client_allocations WHERE ledger_id = $1 ORDER BY sequence_index ASC`

	rows, err := r.q.QueryContext(ctx, query, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*domain.ClientAllocation
	for rows.Next() {
		allocation, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, allocation)
	}

	return allocations, rows.Err()
}

// Update updates an existing allocation.
func (r *AllocationRepository) Update(ctx context.Context, allocation *domain.ClientAllocation) error {
	query := `
		UPDATE client_allocations
		SET delivered_quantity = $1, status = $2, marker_initial = $3, marker_final = $4, completed_at = $5
		WHERE id = $6
	`

	var completedAt sql.NullTime
	if !allocation.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: allocation.CompletedAt, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		allocation.DeliveredQuantity,
		allocation.Status,
		allocation.MarkerInitial,
		allocation.MarkerFinal,
		completedAt,
		allocation.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Ensure AllocationRepository implements repository.AllocationRepository.
var _ repository.AllocationRepository = (*AllocationRepository)(nil)
