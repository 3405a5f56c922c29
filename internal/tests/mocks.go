package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"despacho/internal/domain"
	"despacho/internal/redis"
	"despacho/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK LEDGER REPOSITORY
// ──────────────────────────────────────────────

// MockLedgerRepository is a mock implementation of LedgerRepository.
type MockLedgerRepository struct {
	mu      sync.RWMutex
	ledgers map[string]*domain.FuelLedger

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError error
	UpdateError error
}

// NewMockLedgerRepository creates a new mock ledger repository.
func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{
		ledgers: make(map[string]*domain.FuelLedger),
	}
}

// AddLedger adds a ledger to the mock repository.
func (m *MockLedgerRepository) AddLedger(ledger *domain.FuelLedger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger
}

func (m *MockLedgerRepository) Create(ctx context.Context, ledger *domain.FuelLedger) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.ID] = ledger
	return nil
}

func (m *MockLedgerRepository) GetByID(ctx context.Context, id string) (*domain.FuelLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *ledger
	return &copy, nil
}

func (m *MockLedgerRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.FuelLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.ledgers {
		if l.DriverID == driverID && !l.IsCompleted {
			copy := *l
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockLedgerRepository) List(ctx context.Context, completed *bool) ([]*domain.FuelLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.FuelLedger
	for _, l := range m.ledgers {
		if completed != nil && l.IsCompleted != *completed {
			continue
		}
		copy := *l
		out = append(out, &copy)
	}
	return out, nil
}

func (m *MockLedgerRepository) UpdateWithVersion(ctx context.Context, ledger *domain.FuelLedger, expectedVersion int64) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.ledgers[ledger.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	copy := *ledger
	copy.Version = expectedVersion + 1
	m.ledgers[ledger.ID] = &copy
	ledger.Version = copy.Version
	return nil
}

// ──────────────────────────────────────────────
// MOCK ALLOCATION REPOSITORY
// ──────────────────────────────────────────────

// MockAllocationRepository is a mock implementation of AllocationRepository.
type MockAllocationRepository struct {
	mu          sync.RWMutex
	allocations map[string]*domain.ClientAllocation

	// Counters for verification
	UpdateCallCount int32

	// Error injection
	UpdateError error
}

// NewMockAllocationRepository creates a new mock allocation repository.
func NewMockAllocationRepository() *MockAllocationRepository {
	return &MockAllocationRepository{
		allocations: make(map[string]*domain.ClientAllocation),
	}
}

// AddAllocation adds an allocation to the mock repository.
func (m *MockAllocationRepository) AddAllocation(allocation *domain.ClientAllocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[allocation.ID] = allocation
}

func (m *MockAllocationRepository) Create(ctx context.Context, allocation *domain.ClientAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[allocation.ID] = allocation
	return nil
}

func (m *MockAllocationRepository) GetByID(ctx context.Context, id string) (*domain.ClientAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allocation, ok := m.allocations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *allocation
	return &copy, nil
}

func (m *MockAllocationRepository) ListByLedgerID(ctx context.Context, ledgerID string) ([]*domain.ClientAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ClientAllocation
	for _, a := range m.allocations {
		if a.LedgerID == ledgerID {
			copy := *a
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

func (m *MockAllocationRepository) Update(ctx context.Context, allocation *domain.ClientAllocation) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allocations[allocation.ID]; !ok {
		return repository.ErrNotFound
	}
	copy := *allocation
	m.allocations[allocation.ID] = &copy
	return nil
}

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository.
type MockTripRepository struct {
	mu    sync.RWMutex
	trips map[string]*domain.Trip

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError error
	UpdateError error
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{
		trips: make(map[string]*domain.Trip),
	}
}

// AddTrip adds a trip to the mock repository.
func (m *MockTripRepository) AddTrip(trip *domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
}

func (m *MockTripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
	return nil
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *trip
	return &copy, nil
}

func (m *MockTripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[trip.ID]; !ok {
		return repository.ErrNotFound
	}
	copy := *trip
	m.trips[trip.ID] = &copy
	return nil
}

func (m *MockTripRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.DriverID == driverID && t.Status == domain.TripStatusActive {
			copy := *t
			return &copy, nil
		}
	}
	return nil, nil
}

// ──────────────────────────────────────────────
// MOCK APPLIED OPERATION REPOSITORY
// ──────────────────────────────────────────────

// MockAppliedOperationRepository is a mock implementation of the server-side
// idempotency store.
type MockAppliedOperationRepository struct {
	mu      sync.RWMutex
	applied map[string]*repository.AppliedOperation

	// Counters for verification
	GetCallCount    int32
	CreateCallCount int32
}

// NewMockAppliedOperationRepository creates a new mock applied operation
// repository.
func NewMockAppliedOperationRepository() *MockAppliedOperationRepository {
	return &MockAppliedOperationRepository{
		applied: make(map[string]*repository.AppliedOperation),
	}
}

// AddApplied records a prior outcome under an idempotency key.
func (m *MockAppliedOperationRepository) AddApplied(op *repository.AppliedOperation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[op.IdempotencyKey] = op
}

func (m *MockAppliedOperationRepository) Get(ctx context.Context, key string) (*repository.AppliedOperation, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.applied[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *op
	return &copy, nil
}

func (m *MockAppliedOperationRepository) Create(ctx context.Context, op *repository.AppliedOperation) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[op.IdempotencyKey] = op
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]bool

	// Counters for verification
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]bool),
	}
}

func (m *MockLockStore) AcquireLedgerLock(ctx context.Context, ledgerID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[ledgerID] {
		return false, nil
	}
	m.locks[ledgerID] = true
	return true, nil
}

func (m *MockLockStore) ReleaseLedgerLock(ctx context.Context, ledgerID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, ledgerID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations []redis.DriverLocation
	lastSeen  map[string]time.Time

	// Counters for verification
	UpdateCallCount int32

	// Error injection
	UpdateError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		lastSeen: make(map[string]time.Time),
	}
}

// SetLocations seeds the mock with driver locations.
func (m *MockLocationStore) SetLocations(locations []redis.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = locations
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations[i].Lat = lat
			m.locations[i].Lng = lng
			m.lastSeen[driverID] = at
			return nil
		}
	}
	m.locations = append(m.locations, redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng})
	m.lastSeen[driverID] = at
	return nil
}

func (m *MockLocationStore) LastSeen(ctx context.Context, driverID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen, ok := m.lastSeen[driverID]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	return seen, nil
}

func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]redis.DriverLocation, len(m.locations))
	copy(out, m.locations)
	return out, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations = append(m.locations[:i], m.locations[i+1:]...)
			break
		}
	}
	delete(m.lastSeen, driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK EVIDENCE REPOSITORY
// ──────────────────────────────────────────────

// MockEvidenceRepository is a mock implementation of EvidenceRepository.
type MockEvidenceRepository struct {
	mu    sync.RWMutex
	items []*domain.EvidenceItem

	// Counters for verification
	CreateCallCount int32

	// Error injection
	CreateError error
	ListError   error
}

// NewMockEvidenceRepository creates a new mock evidence repository.
func NewMockEvidenceRepository() *MockEvidenceRepository {
	return &MockEvidenceRepository{}
}

// AddEvidence seeds the mock with an evidence item.
func (m *MockEvidenceRepository) AddEvidence(item *domain.EvidenceItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
}

func (m *MockEvidenceRepository) Create(ctx context.Context, item *domain.EvidenceItem) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *item
	m.items = append(m.items, &copy)
	return nil
}

func (m *MockEvidenceRepository) ListByAllocationID(ctx context.Context, allocationID string) ([]*domain.EvidenceItem, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.EvidenceItem
	for _, item := range m.items {
		if item.AllocationID == allocationID {
			copy := *item
			out = append(out, &copy)
		}
	}
	return out, nil
}
