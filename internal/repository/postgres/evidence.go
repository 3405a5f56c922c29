package postgres

import (
	"context"
	"database/sql"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// EvidenceRepository is a PostgreSQL implementation of
// repository.EvidenceRepository.
type EvidenceRepository struct {
	q Querier
}

// NewEvidenceRepository creates a new PostgreSQL evidence repository.
func NewEvidenceRepository(db *sql.DB) *EvidenceRepository {
	return &EvidenceRepository{q: db}
}

// NewEvidenceRepositoryWithTx creates an evidence repository using a transaction.
func NewEvidenceRepositoryWithTx(tx *sql.Tx) *EvidenceRepository {
	return &EvidenceRepository{q: tx}
}

// Create persists an evidence reference.
func (r *EvidenceRepository) Create(ctx context.Context, item *domain.EvidenceItem) error {
	query := `
		INSERT INTO evidence_items (id, allocation_id, stage, url, captured_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query,
		item.ID,
		item.AllocationID,
		item.Stage,
		item.URL,
		item.CapturedAt,
	)

	return err
}

// ListByAllocationID retrieves evidence for an allocation, oldest first.
func (r *EvidenceRepository) ListByAllocationID(ctx context.Context, allocationID string) ([]*domain.EvidenceItem, error) {
	query := `
		SELECT id, allocation_id, stage, url, captured_at
		FROM evidence_items
		WHERE allocation_id = $1
		ORDER BY captured_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, allocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.EvidenceItem
	for rows.Next() {
		var item domain.EvidenceItem
		if err := rows.Scan(
			&item.ID,
			&item.AllocationID,
			&item.Stage,
			&item.URL,
			&item.CapturedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}

	return items, rows.Err()
}

// Ensure EvidenceRepository implements repository.EvidenceRepository.
var _ repository.EvidenceRepository = (*EvidenceRepository)(nil)
