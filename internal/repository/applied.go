package repository

import (
	"context"
	"encoding/json"
	"time"
)

// AppliedOperation is the stored outcome of a reconciled sync operation,
// keyed by its idempotency key. Replaying the same key returns this result
// instead of mutating state again.
type AppliedOperation struct {
	IdempotencyKey string
	Result         json.RawMessage
	AppliedAt      time.Time
}

// AppliedOperationRepository is the server-side idempotency store.
type AppliedOperationRepository interface {
	// Get retrieves a prior result by idempotency key. Returns ErrNotFound
	// when the key has never been applied.
	Get(ctx context.Context, key string) (*AppliedOperation, error)

	// Create records the result of an applied operation.
	Create(ctx context.Context, op *AppliedOperation) error
}
