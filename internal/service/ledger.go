package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"despacho/internal/domain"
	internalRedis "despacho/internal/redis"
	"despacho/internal/repository"
	"despacho/internal/repository/postgres"
)

// ApplyDelivery applies a completed delivery to a ledger and its allocation
// in memory. epsilon is the configured over-delivery tolerance (default
// zero). The caller is responsible for persisting both records atomically.
//
// Preconditions: the allocation is IN_PROGRESS, delivered is positive, and
// delivered does not exceed remaining + epsilon. On success the allocation is
// COMPLETED, the ledger remaining is decremented, and the ledger is marked
// completed when it runs dry or no open allocations remain among siblings.
func ApplyDelivery(ledger *domain.FuelLedger, allocation *domain.ClientAllocation, siblings []*domain.ClientAllocation, delivered, epsilon decimal.Decimal) error {
	if allocation.Status != domain.AllocationStatusInProgress {
		return ErrInvalidAllocationState
	}

	if !delivered.IsPositive() {
		return ErrNonPositiveQuantity
	}

	if delivered.GreaterThan(ledger.TotalRemaining.Add(epsilon)) {
		return &InsufficientFuelError{
			LedgerID:  ledger.ID,
			Requested: delivered,
			Remaining: ledger.TotalRemaining,
		}
	}

	allocation.DeliveredQuantity = decimal.NullDecimal{Decimal: delivered, Valid: true}
	allocation.Status = domain.AllocationStatusCompleted
	allocation.CompletedAt = time.Now()

	ledger.TotalRemaining = ledger.TotalRemaining.Sub(delivered)

	open := false
	for _, sib := range siblings {
		if sib.ID == allocation.ID {
			continue
		}
		if !sib.IsTerminal() {
			open = true
			break
		}
	}

	if !ledger.HasRemaining() || !open {
		ledger.IsCompleted = true
		ledger.CompletedAt = allocation.CompletedAt
	}

	return nil
}

// DeliveredFromMarkers computes the delivered quantity from gauge readings:
// initial minus final, which must be positive and no more than the initial
// reading.
func DeliveredFromMarkers(markerInitial, markerFinal decimal.Decimal) (decimal.Decimal, error) {
	delivered := markerInitial.Sub(markerFinal)
	if !delivered.IsPositive() || delivered.GreaterThan(markerInitial) {
		return decimal.Zero, ErrInvalidMarkerReadings
	}
	return delivered, nil
}

// ApplyCancellation cancels an open allocation in memory. If that leaves no
// open allocations among siblings, the ledger is archived. The caller is
// responsible for persisting both records atomically, and must write the
// ledger with a version check even when only the allocation changed, so that
// a cancellation serializes against an in-flight completion of the same
// allocation.
func ApplyCancellation(ledger *domain.FuelLedger, allocation *domain.ClientAllocation, siblings []*domain.ClientAllocation) error {
	if allocation.IsTerminal() {
		return ErrInvalidAllocationState
	}

	allocation.Status = domain.AllocationStatusCancelled

	open := false
	for _, sib := range siblings {
		if sib.ID == allocation.ID {
			sib.Status = domain.AllocationStatusCancelled
			continue
		}
		if !sib.IsTerminal() {
			open = true
		}
	}

	if !open && !ledger.IsCompleted {
		ledger.IsCompleted = true
		ledger.CompletedAt = time.Now()
	}

	return nil
}

// LedgerService handles ledger lifecycle: creation when a truck is loaded,
// allocation assignment and cancellation, and snapshot reads.
type LedgerService struct {
	db            *sql.DB
	ledgerRepo    repository.LedgerRepository
	allocRepo     repository.AllocationRepository
	evidenceRepo  repository.EvidenceRepository
	directoryRepo repository.DirectoryRepository
	cacheStore    *internalRedis.CacheStore
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	db *sql.DB,
	ledgerRepo repository.LedgerRepository,
	allocRepo repository.AllocationRepository,
	evidenceRepo repository.EvidenceRepository,
	directoryRepo repository.DirectoryRepository,
	cacheStore *internalRedis.CacheStore,
) *LedgerService {
	return &LedgerService{
		db:            db,
		ledgerRepo:    ledgerRepo,
		allocRepo:     allocRepo,
		evidenceRepo:  evidenceRepo,
		directoryRepo: directoryRepo,
		cacheStore:    cacheStore,
	}
}

// AllocationSpec describes one planned delivery at ledger creation.
type AllocationSpec struct {
	CustomerID        string
	AllocatedQuantity decimal.Decimal
}

// CreateLedgerRequest contains the parameters for creating a ledger.
type CreateLedgerRequest struct {
	TruckID     string
	DriverID    string
	FuelType    string
	TotalLoaded decimal.Decimal
	Allocations []AllocationSpec
}

// CreateLedger records a truck loading and its planned per-customer
// allocations. Allocated quantities need not sum to the loaded total;
// variance is tracked, not blocked.
func (s *LedgerService) CreateLedger(ctx context.Context, req CreateLedgerRequest) (*domain.LedgerSnapshot, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	if !req.TotalLoaded.IsPositive() {
		return nil, ErrNonPositiveQuantity
	}

	for _, spec := range req.Allocations {
		if !spec.AllocatedQuantity.IsPositive() {
			return nil, ErrNonPositiveQuantity
		}
	}

	// Directory lookups validate the assignment references.
	if s.directoryRepo != nil {
		if _, err := s.directoryRepo.GetTruck(ctx, req.TruckID); err != nil {
			return nil, err
		}
		if _, err := s.directoryRepo.GetDriver(ctx, req.DriverID); err != nil {
			return nil, err
		}
		for _, spec := range req.Allocations {
			if _, err := s.directoryRepo.GetCustomer(ctx, spec.CustomerID); err != nil {
				return nil, err
			}
		}
	}

	ledger := &domain.FuelLedger{
		ID:             uuid.New().String(),
		TruckID:        req.TruckID,
		DriverID:       req.DriverID,
		FuelType:       req.FuelType,
		TotalLoaded:    req.TotalLoaded,
		TotalRemaining: req.TotalLoaded,
		Version:        1,
		CreatedAt:      time.Now(),
	}

	allocations := make([]*domain.ClientAllocation, 0, len(req.Allocations))
	for i, spec := range req.Allocations {
		allocations = append(allocations, &domain.ClientAllocation{
			ID:                uuid.New().String(),
			LedgerID:          ledger.ID,
			CustomerID:        spec.CustomerID,
			SequenceIndex:     i,
			AllocatedQuantity: spec.AllocatedQuantity,
			Status:            domain.AllocationStatusPending,
		})
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

	txLedgerRepo := postgres.NewLedgerRepositoryWithTx(tx)
	txAllocRepo := postgres.NewAllocationRepositoryWithTx(tx)

	if err = txLedgerRepo.Create(ctx, ledger); err != nil {
		return nil, err
	}

	for _, allocation := range allocations {
		if err = txAllocRepo.Create(ctx, allocation); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, nil
}

// GetSnapshot retrieves a ledger with its allocations, serving from the
// redis cache when fresh.
func (s *LedgerService) GetSnapshot(ctx context.Context, ledgerID string) (*domain.LedgerSnapshot, error) {
	if ledgerID == "" {
		return nil, ErrInvalidLedgerID
	}

	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetLedger(ctx, ledgerID)
		if err == nil && cached != nil {
			if snapshot, ok := snapshotFromCached(cached); ok {
				return snapshot, nil
			}
		}
	}

	snapshot, err := s.loadSnapshot(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		_ = s.cacheStore.SetLedger(ctx, cachedFromSnapshot(snapshot))
	}

	return snapshot, nil
}

func (s *LedgerService) loadSnapshot(ctx context.Context, ledgerID string) (*domain.LedgerSnapshot, error) {
	ledger, err := s.ledgerRepo.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	allocations, err := s.allocRepo.ListByLedgerID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, nil
}

// List retrieves ledgers; completed=true lists the archive.
func (s *LedgerService) List(ctx context.Context, completed *bool) ([]*domain.FuelLedger, error) {
	return s.ledgerRepo.List(ctx, completed)
}

// GetActiveForDriver returns the driver's open ledger with its allocations.
// Returns nil when the driver has no open assignment. Devices call this on
// startup to discover a ledger assigned while they were offline.
func (s *LedgerService) GetActiveForDriver(ctx context.Context, driverID string) (*domain.LedgerSnapshot, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	ledger, err := s.ledgerRepo.GetActiveByDriverID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, nil
	}

	allocations, err := s.allocRepo.ListByLedgerID(ctx, ledger.ID)
	if err != nil {
		return nil, err
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, nil
}

// ListEvidence returns the evidence attached to an allocation, oldest first.
func (s *LedgerService) ListEvidence(ctx context.Context, ledgerID, allocationID string) ([]*domain.EvidenceItem, error) {
	if ledgerID == "" {
		return nil, ErrInvalidLedgerID
	}
	if allocationID == "" {
		return nil, ErrInvalidAllocationID
	}

	allocation, err := s.allocRepo.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if allocation.LedgerID != ledgerID {
		return nil, repository.ErrNotFound
	}

	return s.evidenceRepo.ListByAllocationID(ctx, allocationID)
}

// CancelAllocation administratively cancels a pending or in-progress
// allocation. If that leaves no open allocations, the ledger is archived.
func (s *LedgerService) CancelAllocation(ctx context.Context, ledgerID, allocationID string) (*domain.LedgerSnapshot, error) {
	if ledgerID == "" {
		return nil, ErrInvalidLedgerID
	}
	if allocationID == "" {
		return nil, ErrInvalidAllocationID
	}

	ledger, err := s.ledgerRepo.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	allocation, err := s.allocRepo.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}

	if allocation.LedgerID != ledger.ID {
		return nil, repository.ErrNotFound
	}

	allocations, err := s.allocRepo.ListByLedgerID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	if err = ApplyCancellation(ledger, allocation, allocations); err != nil {
		return nil, err
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

	txLedgerRepo := postgres.NewLedgerRepositoryWithTx(tx)
	txAllocRepo := postgres.NewAllocationRepositoryWithTx(tx)

	if err = txAllocRepo.Update(ctx, allocation); err != nil {
		return nil, err
	}

	// Always bump the ledger version, even when only the allocation row
	// changed. A completion for the same allocation that loaded its state
	// before this cancel then loses the version check instead of silently
	// overwriting CANCELLED with COMPLETED.
	if err = txLedgerRepo.UpdateWithVersion(ctx, ledger, ledger.Version); err != nil {
		if err == repository.ErrVersionConflict {
			err = ErrConcurrentModification
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		_ = s.cacheStore.InvalidateLedger(ctx, ledgerID)
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, nil
}

// snapshotFromCached reconstructs a domain snapshot from the cache read
// model. Returns ok=false when any cached quantity fails to parse, in which
// case the caller falls back to the database.
func snapshotFromCached(cached *internalRedis.CachedLedger) (*domain.LedgerSnapshot, bool) {
	loaded, err := decimal.NewFromString(cached.TotalLoaded)
	if err != nil {
		return nil, false
	}
	remaining, err := decimal.NewFromString(cached.TotalRemaining)
	if err != nil {
		return nil, false
	}

	ledger := &domain.FuelLedger{
		ID:             cached.ID,
		TruckID:        cached.TruckID,
		DriverID:       cached.DriverID,
		FuelType:       cached.FuelType,
		TotalLoaded:    loaded,
		TotalRemaining: remaining,
		IsCompleted:    cached.IsCompleted,
		Version:        cached.Version,
	}

	parseNull := func(s string) (decimal.NullDecimal, bool) {
		if s == "" {
			return decimal.NullDecimal{}, true
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, false
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}, true
	}

	allocations := make([]*domain.ClientAllocation, 0, len(cached.Allocations))
	for _, ca := range cached.Allocations {
		allocated, err := decimal.NewFromString(ca.AllocatedQuantity)
		if err != nil {
			return nil, false
		}
		delivered, ok := parseNull(ca.DeliveredQuantity)
		if !ok {
			return nil, false
		}
		markerInitial, ok := parseNull(ca.MarkerInitial)
		if !ok {
			return nil, false
		}
		markerFinal, ok := parseNull(ca.MarkerFinal)
		if !ok {
			return nil, false
		}

		allocations = append(allocations, &domain.ClientAllocation{
			ID:                ca.ID,
			LedgerID:          cached.ID,
			CustomerID:        ca.CustomerID,
			SequenceIndex:     ca.SequenceIndex,
			AllocatedQuantity: allocated,
			DeliveredQuantity: delivered,
			Status:            domain.AllocationStatus(ca.Status),
			MarkerInitial:     markerInitial,
			MarkerFinal:       markerFinal,
		})
	}

	return &domain.LedgerSnapshot{Ledger: ledger, Allocations: allocations}, true
}

// cachedFromSnapshot converts a snapshot to its cache read model.
func cachedFromSnapshot(snapshot *domain.LedgerSnapshot) *internalRedis.CachedLedger {
	cached := &internalRedis.CachedLedger{
		ID:             snapshot.Ledger.ID,
		TruckID:        snapshot.Ledger.TruckID,
		DriverID:       snapshot.Ledger.DriverID,
		FuelType:       snapshot.Ledger.FuelType,
		TotalLoaded:    snapshot.Ledger.TotalLoaded.String(),
		TotalRemaining: snapshot.Ledger.TotalRemaining.String(),
		IsCompleted:    snapshot.Ledger.IsCompleted,
		Version:        snapshot.Ledger.Version,
	}

	for _, a := range snapshot.Allocations {
		ca := internalRedis.CachedAllocation{
			ID:                a.ID,
			CustomerID:        a.CustomerID,
			SequenceIndex:     a.SequenceIndex,
			AllocatedQuantity: a.AllocatedQuantity.String(),
			Status:            string(a.Status),
		}
		if a.DeliveredQuantity.Valid {
			ca.DeliveredQuantity = a.DeliveredQuantity.Decimal.String()
		}
		if a.MarkerInitial.Valid {
			ca.MarkerInitial = a.MarkerInitial.Decimal.String()
		}
		if a.MarkerFinal.Valid {
			ca.MarkerFinal = a.MarkerFinal.Decimal.String()
		}
		cached.Allocations = append(cached.Allocations, ca)
	}

	return cached
}
