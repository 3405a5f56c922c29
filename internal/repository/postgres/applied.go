package postgres

import (
	"context"
	"database/sql"
	"errors"

	"despacho/internal/repository"
)

// AppliedOperationRepository is a PostgreSQL implementation of
// repository.AppliedOperationRepository.
type AppliedOperationRepository struct {
	q Querier
}

// NewAppliedOperationRepository creates a new PostgreSQL applied-operation
// repository.
func NewAppliedOperationRepository(db *sql.DB) *AppliedOperationRepository {
	return &AppliedOperationRepository{q: db}
}

// NewAppliedOperationRepositoryWithTx creates an applied-operation repository
// using a transaction.
func NewAppliedOperationRepositoryWithTx(tx *sql.Tx) *AppliedOperationRepository {
	return &AppliedOperationRepository{q: tx}
}

// Get retrieves a prior result by idempotency key.
func (r *AppliedOperationRepository) Get(ctx context.Context, key string) (*repository.AppliedOperation, error) {
	query := `SELECT idempotency_key, result, applied_at FROM applied_operations WHERE idempotency_key = $1`

	var op repository.AppliedOperation
	var result []byte

	err := r.q.QueryRowContext(ctx, query, key).Scan(&op.IdempotencyKey, &result, &op.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	op.Result = result
	return &op, nil
}

// Create records the result of an applied operation.
func (r *AppliedOperationRepository) Create(ctx context.Context, op *repository.AppliedOperation) error {
	query := `
		INSERT INTO applied_operations (idempotency_key, result, applied_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.q.ExecContext(ctx, query, op.IdempotencyKey, []byte(op.Result), op.AppliedAt)
	return err
}

// Ensure AppliedOperationRepository implements repository.AppliedOperationRepository.
var _ repository.AppliedOperationRepository = (*AppliedOperationRepository)(nil)
