package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"despacho/internal/device/store"
	"despacho/internal/domain"
)

// EvidenceStorage uploads a locally captured evidence file and returns the
// URL under which it is now reachable. Uploads happen at flush time, never at
// capture time, so evidence can be captured offline.
type EvidenceStorage interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// BlockedError reports that the queue head is a failed operation. Nothing
// behind it is sent until the operator resolves or discards it.
type BlockedError struct {
	Op *domain.SyncOperation
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("sync queue blocked by failed operation %s (%s): %s",
		e.Op.ID, e.Op.Kind, e.Op.FailureReason)
}

// QueueConfig carries the retry tuning for the sync queue.
type QueueConfig struct {
	FlushInterval time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RetryBudget   time.Duration
}

// Queue is the durable offline sync queue. Operations are flushed strictly in
// enqueue order, one at a time; a validation rejection halts the queue at the
// failed operation, a transient failure backs off and retries the same head.
type Queue struct {
	store    *store.DB
	client   *Client
	evidence EvidenceStorage
	cfg      QueueConfig

	kick chan struct{}
}

// NewQueue creates a Queue on top of the device store.
func NewQueue(db *store.DB, client *Client, evidence EvidenceStorage, cfg QueueConfig) *Queue {
	return &Queue{
		store:    db,
		client:   client,
		evidence: evidence,
		cfg:      cfg,
		kick:     make(chan struct{}, 1),
	}
}

// Enqueue persists an operation at the tail of the queue and nudges the flush
// loop. The generated ID doubles as the server-side idempotency key.
func (q *Queue) Enqueue(driverID string, kind domain.SyncOperationKind, payload any) (*domain.SyncOperation, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	op := &domain.SyncOperation{
		ID:        uuid.New().String(),
		DriverID:  driverID,
		Kind:      kind,
		Payload:   encoded,
		CreatedAt: time.Now(),
		Status:    domain.SyncOpStatusPending,
	}
	if err := q.store.Enqueue(op); err != nil {
		return nil, err
	}
	q.Kick()
	return op, nil
}

// Kick asks the flush loop to try now, typically on connectivity restored.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Pending returns the unflushed operations in order.
func (q *Queue) Pending() ([]*domain.SyncOperation, error) {
	return q.store.ListPending()
}

// Discard resolves a failed head without retrying it.
func (q *Queue) Discard(id string) error {
	if err := q.store.Discard(id); err != nil {
		return err
	}
	q.Kick()
	return nil
}

// Retry requeues a failed head after the operator corrected the rejection.
func (q *Queue) Retry(id string) error {
	if err := q.store.Retry(id); err != nil {
		return err
	}
	q.Kick()
	return nil
}

// Run drives the queue until the context is cancelled. Transient send
// failures back off exponentially; a blocked queue waits for the regular
// interval since only operator action can unblock it.
func (q *Queue) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.BackoffBase
	bo.MaxInterval = q.cfg.BackoffCap
	bo.MaxElapsedTime = 0
	bo.Reset()

	timer := time.NewTimer(q.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		err := q.Flush(ctx)
		switch {
		case err == nil:
			bo.Reset()
			timer.Reset(q.cfg.FlushInterval)
		case isBlocked(err):
			log.Printf("sync queue blocked: %v", err)
			timer.Reset(q.cfg.FlushInterval)
		default:
			wait := bo.NextBackOff()
			log.Printf("sync flush failed, retrying in %s: %v", wait, err)
			timer.Reset(wait)
		}
	}
}

// Flush sends queued operations strictly in order until the queue is empty,
// a transient failure occurs, or a failed head blocks it.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		op, err := q.store.Head()
		if errors.Is(err, store.ErrQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		if op.Status == domain.SyncOpStatusFailed {
			return &BlockedError{Op: op}
		}
		if err := q.flushOne(ctx, op); err != nil {
			return err
		}
	}
}

// flushOne sends a single operation and settles its status. A concurrent
// modification rejection is retried once immediately; the server state moved
// under the operation and the retry revalidates against the fresh state.
func (q *Queue) flushOne(ctx context.Context, op *domain.SyncOperation) error {
	err := q.send(ctx, op)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "ConcurrentModification" {
		err = q.send(ctx, op)
	}

	if err == nil {
		return q.store.MarkSynced(op.ID)
	}

	if errors.As(err, &apiErr) && apiErr.Permanent() {
		if markErr := q.store.MarkFailed(op.ID, apiErr.Error()); markErr != nil {
			return markErr
		}
		op.Status = domain.SyncOpStatusFailed
		op.FailureReason = apiErr.Error()
		return &BlockedError{Op: op}
	}

	// Transient failure. Count the attempt; an operation that has been
	// failing past the retry budget stops retrying and goes to manual
	// review, blocking the queue like a validation rejection would.
	if markErr := q.store.IncrementAttempts(op.ID); markErr != nil {
		return markErr
	}
	if time.Since(op.CreatedAt) > q.cfg.RetryBudget {
		reason := fmt.Sprintf("retry budget exhausted after %d attempts, needs manual review: %v", op.Attempts+1, err)
		if markErr := q.store.MarkFailed(op.ID, reason); markErr != nil {
			return markErr
		}
		op.Status = domain.SyncOpStatusFailed
		op.FailureReason = reason
		return &BlockedError{Op: op}
	}
	return err
}

func (q *Queue) send(ctx context.Context, op *domain.SyncOperation) error {
	switch op.Kind {
	case domain.SyncOpCompleteDelivery:
		var p domain.CompleteDeliveryPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &APIError{StatusCode: 400, Code: "MalformedPayload", Message: err.Error()}
		}
		_, err := q.client.CompleteDelivery(ctx, op.ID, p)
		return err

	case domain.SyncOpUpdateLocation:
		var p domain.UpdateLocationPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &APIError{StatusCode: 400, Code: "MalformedPayload", Message: err.Error()}
		}
		return q.client.UpdateLocation(ctx, op.ID, p)

	case domain.SyncOpAttachEvidence:
		var p domain.AttachEvidencePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &APIError{StatusCode: 400, Code: "MalformedPayload", Message: err.Error()}
		}
		if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			url, err := q.evidence.Upload(ctx, p.URL)
			if err != nil {
				return fmt.Errorf("upload evidence: %w", err)
			}
			p.URL = url
			rewritten, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}
			if err := q.store.UpdatePayload(op.ID, rewritten); err != nil {
				return err
			}
			op.Payload = rewritten
		}
		_, err := q.client.AttachEvidence(ctx, op.ID, p)
		return err

	default:
		return &APIError{StatusCode: 400, Code: "UnknownOperationKind", Message: string(op.Kind)}
	}
}

func isBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}
