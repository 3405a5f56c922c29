package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"despacho/internal/domain"
)

// ErrQueueEmpty is returned by Head when no operation is waiting.
var ErrQueueEmpty = errors.New("store: sync queue is empty")

// Enqueue appends an operation to the local queue. Flush order follows
// insertion order (rowid).
func (db *DB) Enqueue(op *domain.SyncOperation) error {
	_, err := db.Exec(`
		INSERT INTO sync_operations (id, driver_id, kind, payload, created_at, attempts, status, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.DriverID, string(op.Kind), []byte(op.Payload),
		op.CreatedAt.UTC().Format(time.RFC3339Nano),
		op.Attempts, string(op.Status), op.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return nil
}

// Head returns the oldest operation that is still pending or failed without
// being resolved. A failed head blocks everything behind it, so callers get it
// back until it is resolved or discarded.
func (db *DB) Head() (*domain.SyncOperation, error) {
	row := db.QueryRow(`
		SELECT id, driver_id, kind, payload, created_at, attempts, status, failure_reason
		FROM sync_operations
		WHERE status = 'PENDING' OR (status = 'FAILED' AND resolved_at IS NULL)
		ORDER BY rowid ASC
		LIMIT 1`)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue head: %w", err)
	}
	return op, nil
}

// ListPending returns every unsent operation in flush order, including a
// blocking failed head if one exists.
func (db *DB) ListPending() ([]*domain.SyncOperation, error) {
	rows, err := db.Query(`
		SELECT id, driver_id, kind, payload, created_at, attempts, status, failure_reason
		FROM sync_operations
		WHERE status = 'PENDING' OR (status = 'FAILED' AND resolved_at IS NULL)
		ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*domain.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkSynced records a server acknowledgement for the operation.
func (db *DB) MarkSynced(id string) error {
	_, err := db.Exec(`UPDATE sync_operations SET status = 'SYNCED' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkFailed records a permanent rejection. The operation stays at the head
// of the queue until Resolve or Discard is called on it.
func (db *DB) MarkFailed(id, reason string) error {
	_, err := db.Exec(`UPDATE sync_operations SET status = 'FAILED', failure_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the delivery attempt counter after a transient
// failure.
func (db *DB) IncrementAttempts(id string) error {
	_, err := db.Exec(`UPDATE sync_operations SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// UpdatePayload persists a rewritten payload, used when an evidence upload
// replaces a local file reference with the remote URL so a restart does not
// upload the file again.
func (db *DB) UpdatePayload(id string, payload []byte) error {
	_, err := db.Exec(`UPDATE sync_operations SET payload = ? WHERE id = ?`, payload, id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	return nil
}

// Discard resolves a failed operation without retrying it, unblocking the
// queue behind it. The row is kept for audit.
func (db *DB) Discard(id string) error {
	res, err := db.Exec(`
		UPDATE sync_operations SET resolved_at = ?
		WHERE id = ? AND status = 'FAILED'`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("discard operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("discard operation: %s is not a failed operation", id)
	}
	return nil
}

// Retry resets a failed operation to pending, typically after the operator
// corrected the condition that caused the rejection.
func (db *DB) Retry(id string) error {
	res, err := db.Exec(`
		UPDATE sync_operations SET status = 'PENDING', failure_reason = ''
		WHERE id = ? AND status = 'FAILED'`, id)
	if err != nil {
		return fmt.Errorf("retry operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("retry operation: %s is not a failed operation", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*domain.SyncOperation, error) {
	var (
		op        domain.SyncOperation
		kind      string
		status    string
		payload   []byte
		createdAt string
	)
	if err := row.Scan(&op.ID, &op.DriverID, &kind, &payload, &createdAt, &op.Attempts, &status, &op.FailureReason); err != nil {
		return nil, err
	}
	op.Kind = domain.SyncOperationKind(kind)
	op.Status = domain.SyncOperationStatus(status)
	op.Payload = payload

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	op.CreatedAt = ts
	return &op, nil
}
