package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"despacho/internal/domain"
	internalRedis "despacho/internal/redis"
	"despacho/internal/repository"
	"despacho/internal/repository/postgres"
)

const ledgerLockTTL = 10 * time.Second

// ApplyOutcome is the result of reconciling one sync operation. Result is the
// serialized response persisted under the operation's idempotency key;
// Replayed is true when the key had already been applied and the stored
// result was returned untouched.
type ApplyOutcome struct {
	Result   json.RawMessage
	Replayed bool
}

// ReconciliationService is the authoritative gate through which every queued
// mutation passes before touching ledger state. Preconditions are always
// re-validated against current server state, never against whatever the
// device believed when it enqueued the operation offline.
type ReconciliationService struct {
	db                  *sql.DB
	ledgerRepo          repository.LedgerRepository
	allocRepo           repository.AllocationRepository
	appliedRepo         repository.AppliedOperationRepository
	lockStore           internalRedis.LockStoreInterface
	locationStore       internalRedis.LocationStoreInterface
	cacheStore          *internalRedis.CacheStore
	sequencer           *DeliverySequencer
	notificationService *NotificationService
	epsilon             decimal.Decimal
}

// NewReconciliationService creates a new ReconciliationService. epsilon is
// the over-delivery tolerance; zero means exact conservation.
func NewReconciliationService(
	db *sql.DB,
	ledgerRepo repository.LedgerRepository,
	allocRepo repository.AllocationRepository,
	appliedRepo repository.AppliedOperationRepository,
	lockStore internalRedis.LockStoreInterface,
	locationStore internalRedis.LocationStoreInterface,
	cacheStore *internalRedis.CacheStore,
	notificationService *NotificationService,
	epsilon decimal.Decimal,
) *ReconciliationService {
	return &ReconciliationService{
		db:                  db,
		ledgerRepo:          ledgerRepo,
		allocRepo:           allocRepo,
		appliedRepo:         appliedRepo,
		lockStore:           lockStore,
		locationStore:       locationStore,
		cacheStore:          cacheStore,
		sequencer:           NewDeliverySequencer(),
		notificationService: notificationService,
		epsilon:             epsilon,
	}
}

// Apply reconciles one sync operation. The same idempotency key always yields
// the same result: a replayed operation returns the stored outcome without
// mutating anything.
func (s *ReconciliationService) Apply(ctx context.Context, op *domain.SyncOperation) (*ApplyOutcome, error) {
	if op.ID == "" {
		return nil, ErrInvalidAllocationID
	}

	prior, err := s.appliedRepo.Get(ctx, op.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if prior != nil {
		return &ApplyOutcome{Result: prior.Result, Replayed: true}, nil
	}

	switch op.Kind {
	case domain.SyncOpCompleteDelivery:
		return s.applyCompleteDelivery(ctx, op)
	case domain.SyncOpUpdateLocation:
		return s.applyUpdateLocation(ctx, op)
	case domain.SyncOpAttachEvidence:
		return s.applyAttachEvidence(ctx, op)
	default:
		return nil, ErrUnknownOperationKind
	}
}

// StartDelivery transitions an allocation Pending -> InProgress after the
// sequencer confirms every predecessor is terminal.
func (s *ReconciliationService) StartDelivery(ctx context.Context, ledgerID, allocationID string) (*domain.LedgerSnapshot, error) {
	ledger, allocations, allocation, err := s.loadLedgerState(ctx, ledgerID, allocationID)
	if err != nil {
		return nil, err
	}

	if ledger.IsCompleted {
		return nil, ErrLedgerCompleted
	}

	if allocation.Status != domain.AllocationStatusPending {
		return nil, ErrInvalidAllocationState
	}

	if !s.sequencer.CanStart(allocationID, allocations) {
		return nil, ErrOutOfSequenceDelivery
	}

	allocation.Status = domain.AllocationStatusInProgress
	if err := s.allocRepo.Update(ctx, allocation); err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		_ = s.cacheStore.InvalidateLedger(ctx, ledgerID)
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, nil
}

func (s *ReconciliationService) applyCompleteDelivery(ctx context.Context, op *domain.SyncOperation) (*ApplyOutcome, error) {
	var payload domain.CompleteDeliveryPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, err
	}

	var delivered decimal.Decimal
	var markerInitial, markerFinal decimal.NullDecimal

	if payload.MarkerInitial != "" || payload.MarkerFinal != "" {
		initial, err := decimal.NewFromString(payload.MarkerInitial)
		if err != nil {
			return nil, ErrInvalidMarkerReadings
		}
		final, err := decimal.NewFromString(payload.MarkerFinal)
		if err != nil {
			return nil, ErrInvalidMarkerReadings
		}

		delivered, err = DeliveredFromMarkers(initial, final)
		if err != nil {
			return nil, err
		}
		markerInitial = decimal.NullDecimal{Decimal: initial, Valid: true}
		markerFinal = decimal.NullDecimal{Decimal: final, Valid: true}
	} else {
		var err error
		delivered, err = decimal.NewFromString(payload.DeliveredQuantity)
		if err != nil {
			return nil, ErrNonPositiveQuantity
		}
	}

	// The ledger lock keeps concurrent applies on one ledger from racing each
	// other to the version check. Not acquiring it is not fatal: the version
	// CAS below still rejects the loser.
	if s.lockStore != nil {
		acquired, lockErr := s.lockStore.AcquireLedgerLock(ctx, payload.LedgerID, ledgerLockTTL)
		if lockErr == nil && !acquired {
			return nil, ErrConcurrentModification
		}
		if lockErr == nil {
			defer func() { _ = s.lockStore.ReleaseLedgerLock(ctx, payload.LedgerID) }()
		}
	}

	ledger, allocations, allocation, err := s.loadLedgerState(ctx, payload.LedgerID, payload.AllocationID)
	if err != nil {
		return nil, err
	}

	if err := s.sequencer.CheckComplete(allocation.ID, allocations); err != nil {
		s.notifyFailure(ctx, op, err)
		return nil, err
	}

	// A delivery completed offline never told the server it started. Promote
	// the allocation here; the sequencer check above already proved it is the
	// first open one.
	if allocation.Status == domain.AllocationStatusPending {
		allocation.Status = domain.AllocationStatusInProgress
	}

	expectedVersion := ledger.Version

	if err := ApplyDelivery(ledger, allocation, allocations, delivered, s.epsilon); err != nil {
		s.notifyFailure(ctx, op, err)
		return nil, err
	}

	allocation.MarkerInitial = markerInitial
	allocation.MarkerFinal = markerFinal

	outcome, err := s.commitDelivery(ctx, op, ledger, allocations, allocation, expectedVersion)
	if err != nil {
		return nil, err
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyDeliveryCompleted(ctx, ledger, allocation)
		if ledger.IsCompleted {
			_ = s.notificationService.NotifyLedgerCompleted(ctx, ledger)
		}
	}

	return outcome, nil
}

func (s *ReconciliationService) commitDelivery(
	ctx context.Context,
	op *domain.SyncOperation,
	ledger *domain.FuelLedger,
	allocations []*domain.ClientAllocation,
	allocation *domain.ClientAllocation,
	expectedVersion int64,
) (*ApplyOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txLedgerRepo := postgres.NewLedgerRepositoryWithTx(tx)
	txAllocRepo := postgres.NewAllocationRepositoryWithTx(tx)
	txAppliedRepo := postgres.NewAppliedOperationRepositoryWithTx(tx)

	if err = txAllocRepo.Update(ctx, allocation); err != nil {
		return nil, err
	}

	if err = txLedgerRepo.UpdateWithVersion(ctx, ledger, expectedVersion); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			err = ErrConcurrentModification
		}
		return nil, err
	}

	result, err := marshalApplyResult(op.Kind, &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations})
	if err != nil {
		return nil, err
	}

	if err = txAppliedRepo.Create(ctx, &repository.AppliedOperation{
		IdempotencyKey: op.ID,
		Result:         result,
		AppliedAt:      time.Now(),
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		_ = s.cacheStore.InvalidateLedger(ctx, ledger.ID)
	}

	return &ApplyOutcome{Result: result}, nil
}

func (s *ReconciliationService) applyUpdateLocation(ctx context.Context, op *domain.SyncOperation) (*ApplyOutcome, error) {
	var payload domain.UpdateLocationPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, err
	}

	if payload.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	if s.locationStore != nil {
		at := payload.Location.Timestamp
		if at.IsZero() {
			at = op.CreatedAt
		}
		if err := s.locationStore.UpdateLocation(ctx, payload.DriverID, payload.Location.Lat, payload.Location.Lng, at); err != nil {
			return nil, err
		}
	}

	result, err := marshalApplyResult(op.Kind, nil)
	if err != nil {
		return nil, err
	}

	if err := s.appliedRepo.Create(ctx, &repository.AppliedOperation{
		IdempotencyKey: op.ID,
		Result:         result,
		AppliedAt:      time.Now(),
	}); err != nil {
		return nil, err
	}

	return &ApplyOutcome{Result: result}, nil
}

func (s *ReconciliationService) applyAttachEvidence(ctx context.Context, op *domain.SyncOperation) (*ApplyOutcome, error) {
	var payload domain.AttachEvidencePayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, err
	}

	allocation, err := s.allocRepo.GetByID(ctx, payload.AllocationID)
	if err != nil {
		return nil, err
	}
	if allocation.LedgerID != payload.LedgerID {
		return nil, repository.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txEvidenceRepo := postgres.NewEvidenceRepositoryWithTx(tx)
	txAppliedRepo := postgres.NewAppliedOperationRepositoryWithTx(tx)

	// The operation ID doubles as the evidence row ID, so one queued capture
	// can never insert twice.
	if err = txEvidenceRepo.Create(ctx, &domain.EvidenceItem{
		ID:           op.ID,
		AllocationID: payload.AllocationID,
		Stage:        payload.Stage,
		URL:          payload.URL,
		CapturedAt:   op.CreatedAt,
	}); err != nil {
		return nil, err
	}

	result, marshalErr := marshalApplyResult(op.Kind, nil)
	if marshalErr != nil {
		err = marshalErr
		return nil, err
	}

	if err = txAppliedRepo.Create(ctx, &repository.AppliedOperation{
		IdempotencyKey: op.ID,
		Result:         result,
		AppliedAt:      time.Now(),
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &ApplyOutcome{Result: result}, nil
}

// notifyFailure reports a rejected operation to the dispatcher channel. The
// device learns about the rejection from the response; this is for the
// dispatcher watching the fleet.
func (s *ReconciliationService) notifyFailure(ctx context.Context, op *domain.SyncOperation, cause error) {
	if s.notificationService != nil {
		_ = s.notificationService.NotifyOperationFailed(ctx, op, cause.Error())
	}
}

func (s *ReconciliationService) loadLedgerState(ctx context.Context, ledgerID, allocationID string) (*domain.FuelLedger, []*domain.ClientAllocation, *domain.ClientAllocation, error) {
	if ledgerID == "" {
		return nil, nil, nil, ErrInvalidLedgerID
	}
	if allocationID == "" {
		return nil, nil, nil, ErrInvalidAllocationID
	}

	ledger, err := s.ledgerRepo.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, nil, nil, err
	}

	allocations, err := s.allocRepo.ListByLedgerID(ctx, ledgerID)
	if err != nil {
		return nil, nil, nil, err
	}

	var allocation *domain.ClientAllocation
	for _, a := range allocations {
		if a.ID == allocationID {
			allocation = a
			break
		}
	}
	if allocation == nil {
		return nil, nil, nil, repository.ErrNotFound
	}

	return ledger, allocations, allocation, nil
}

// applyResult is the serialized outcome stored per idempotency key and
// returned to clients.
type applyResult struct {
	Kind   domain.SyncOperationKind `json:"kind"`
	Ledger *ledgerResult            `json:"ledger,omitempty"`
}

type ledgerResult struct {
	ID             string             `json:"id"`
	TotalLoaded    string             `json:"total_loaded"`
	TotalRemaining string             `json:"total_remaining"`
	IsCompleted    bool               `json:"is_completed"`
	Version        int64              `json:"version"`
	Allocations    []allocationResult `json:"allocations"`
}

type allocationResult struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	SequenceIndex     int    `json:"sequence_index"`
	AllocatedQuantity string `json:"allocated_quantity"`
	DeliveredQuantity string `json:"delivered_quantity,omitempty"`
	Status            string `json:"status"`
	MarkerInitial     string `json:"marker_initial,omitempty"`
	MarkerFinal       string `json:"marker_final,omitempty"`
}

func marshalApplyResult(kind domain.SyncOperationKind, snapshot *domain.LedgerSnapshot) (json.RawMessage, error) {
	result := applyResult{Kind: kind}

	if snapshot != nil {
		lr := &ledgerResult{
			ID:             snapshot.Ledger.ID,
			TotalLoaded:    snapshot.Ledger.TotalLoaded.String(),
			TotalRemaining: snapshot.Ledger.TotalRemaining.String(),
			IsCompleted:    snapshot.Ledger.IsCompleted,
			Version:        snapshot.Ledger.Version,
		}
		for _, a := range snapshot.Allocations {
			ar := allocationResult{
				ID:                a.ID,
				CustomerID:        a.CustomerID,
				SequenceIndex:     a.SequenceIndex,
				AllocatedQuantity: a.AllocatedQuantity.String(),
				Status:            string(a.Status),
			}
			if a.DeliveredQuantity.Valid {
				ar.DeliveredQuantity = a.DeliveredQuantity.Decimal.String()
			}
			if a.MarkerInitial.Valid {
				ar.MarkerInitial = a.MarkerInitial.Decimal.String()
			}
			if a.MarkerFinal.Valid {
				ar.MarkerFinal = a.MarkerFinal.Decimal.String()
			}
			lr.Allocations = append(lr.Allocations, ar)
		}
		result.Ledger = lr
	}

	return json.Marshal(result)
}
