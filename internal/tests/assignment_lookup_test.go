package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"despacho/internal/domain"
	"despacho/internal/repository"
	"despacho/internal/service"
)

func newLedgerFixture() (*service.LedgerService, *MockLedgerRepository, *MockAllocationRepository, *MockEvidenceRepository) {
	ledgerRepo := NewMockLedgerRepository()
	allocRepo := NewMockAllocationRepository()
	evidenceRepo := NewMockEvidenceRepository()

	// No *sql.DB here: these tests stay on the read paths, which never
	// open a transaction.
	svc := service.NewLedgerService(nil, ledgerRepo, allocRepo, evidenceRepo, nil, nil)
	return svc, ledgerRepo, allocRepo, evidenceRepo
}

func pendingAllocation(id, ledgerID string, seq int) *domain.ClientAllocation {
	return &domain.ClientAllocation{
		ID:                id,
		LedgerID:          ledgerID,
		CustomerID:        "customer-" + id,
		SequenceIndex:     seq,
		AllocatedQuantity: decimal.NewFromInt(500),
		Status:            domain.AllocationStatusPending,
	}
}

func TestGetActiveForDriver_ReturnsOpenLedger(t *testing.T) {
	ctx := context.Background()
	svc, ledgerRepo, allocRepo, _ := newLedgerFixture()

	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	allocRepo.AddAllocation(pendingAllocation("alloc-1", "ledger-1", 0))
	allocRepo.AddAllocation(pendingAllocation("alloc-2", "ledger-1", 1))

	snapshot, err := svc.GetActiveForDriver(ctx, "driver-1")
	if err != nil {
		t.Fatalf("failed to look up active ledger: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected a snapshot for the assigned driver")
	}
	if snapshot.Ledger.ID != "ledger-1" {
		t.Errorf("expected ledger-1, got %s", snapshot.Ledger.ID)
	}
	if len(snapshot.Allocations) != 2 {
		t.Errorf("expected 2 allocations, got %d", len(snapshot.Allocations))
	}
}

func TestGetActiveForDriver_NilWhenNoOpenAssignment(t *testing.T) {
	ctx := context.Background()
	svc, ledgerRepo, _, _ := newLedgerFixture()

	archived := openLedger("ledger-1", "driver-1")
	archived.IsCompleted = true
	ledgerRepo.AddLedger(archived)

	snapshot, err := svc.GetActiveForDriver(ctx, "driver-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if snapshot != nil {
		t.Errorf("expected no snapshot for a driver with only archived ledgers, got %+v", snapshot)
	}
}

func TestListEvidence_ReturnsAttachedItems(t *testing.T) {
	ctx := context.Background()
	svc, ledgerRepo, allocRepo, evidenceRepo := newLedgerFixture()

	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	allocRepo.AddAllocation(pendingAllocation("alloc-1", "ledger-1", 0))
	evidenceRepo.AddEvidence(&domain.EvidenceItem{
		ID:           "ev-1",
		AllocationID: "alloc-1",
		Stage:        domain.StageDelivery,
		URL:          "https://evidence.example/ev-1.jpg",
		CapturedAt:   time.Now(),
	})
	evidenceRepo.AddEvidence(&domain.EvidenceItem{
		ID:           "ev-other",
		AllocationID: "alloc-other",
		Stage:        domain.StageDelivery,
		URL:          "https://evidence.example/ev-other.jpg",
		CapturedAt:   time.Now(),
	})

	items, err := svc.ListEvidence(ctx, "ledger-1", "alloc-1")
	if err != nil {
		t.Fatalf("failed to list evidence: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 evidence item, got %d", len(items))
	}
	if items[0].ID != "ev-1" || items[0].Stage != domain.StageDelivery {
		t.Errorf("unexpected item: %+v", items[0])
	}
}

func TestListEvidence_RejectsAllocationFromAnotherLedger(t *testing.T) {
	ctx := context.Background()
	svc, ledgerRepo, allocRepo, _ := newLedgerFixture()

	ledgerRepo.AddLedger(openLedger("ledger-1", "driver-1"))
	allocRepo.AddAllocation(pendingAllocation("alloc-1", "ledger-2", 0))

	_, err := svc.ListEvidence(ctx, "ledger-1", "alloc-1")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
