package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"despacho/internal/domain"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func testOp(id string, kind domain.SyncOperationKind) *domain.SyncOperation {
	return &domain.SyncOperation{
		ID:        id,
		DriverID:  "driver-1",
		Kind:      kind,
		Payload:   []byte(`{"ledger_id":"ledger-1"}`),
		CreatedAt: time.Now(),
		Status:    domain.SyncOpStatusPending,
	}
}

func TestQueue_PreservesEnqueueOrder(t *testing.T) {
	db, _ := openTestDB(t)

	for _, id := range []string{"op-1", "op-2", "op-3"} {
		if err := db.Enqueue(testOp(id, domain.SyncOpUpdateLocation)); err != nil {
			t.Fatalf("failed to enqueue %s: %v", id, err)
		}
	}

	pending, err := db.ListPending()
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending operations, got %d", len(pending))
	}
	for i, want := range []string{"op-1", "op-2", "op-3"} {
		if pending[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, pending[i].ID)
		}
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.ID != "op-1" {
		t.Errorf("expected op-1 at head, got %s", head.ID)
	}
}

func TestQueue_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	if err := db.Enqueue(testOp("op-1", domain.SyncOpCompleteDelivery)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	// Reopen, as after an app restart mid-trip.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen device store: %v", err)
	}
	defer db.Close()

	head, err := db.Head()
	if err != nil {
		t.Fatalf("queue lost across restart: %v", err)
	}
	if head.ID != "op-1" || head.Kind != domain.SyncOpCompleteDelivery {
		t.Errorf("unexpected head after restart: %+v", head)
	}
	if head.Status != domain.SyncOpStatusPending {
		t.Errorf("expected PENDING after restart, got %s", head.Status)
	}
}

func TestQueue_SyncedOperationsLeaveTheQueue(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Enqueue(testOp("op-1", domain.SyncOpUpdateLocation)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := db.Enqueue(testOp("op-2", domain.SyncOpUpdateLocation)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if err := db.MarkSynced("op-1"); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.ID != "op-2" {
		t.Errorf("expected op-2 at head after op-1 synced, got %s", head.ID)
	}

	if err := db.MarkSynced("op-2"); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}
	if _, err := db.Head(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("expected empty queue, got %v", err)
	}
}

func TestQueue_FailedHeadBlocksUntilResolved(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Enqueue(testOp("op-1", domain.SyncOpCompleteDelivery)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := db.Enqueue(testOp("op-2", domain.SyncOpCompleteDelivery)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if err := db.MarkFailed("op-1", "delivery exceeds remaining fuel"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}

	// The failed operation stays at the head; op-2 is stuck behind it.
	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.ID != "op-1" || head.Status != domain.SyncOpStatusFailed {
		t.Errorf("expected failed op-1 at head, got %+v", head)
	}
	if head.FailureReason == "" {
		t.Error("expected the failure reason to be preserved")
	}

	// Discarding unblocks the queue.
	if err := db.Discard("op-1"); err != nil {
		t.Fatalf("failed to discard: %v", err)
	}
	head, err = db.Head()
	if err != nil {
		t.Fatalf("failed to read head after discard: %v", err)
	}
	if head.ID != "op-2" {
		t.Errorf("expected op-2 at head after discard, got %s", head.ID)
	}

	// Discard only applies to failed operations.
	if err := db.Discard("op-2"); err == nil {
		t.Error("expected discarding a pending operation to fail")
	}
}

func TestQueue_RetryRequeuesFailedOperation(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Enqueue(testOp("op-1", domain.SyncOpCompleteDelivery)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := db.MarkFailed("op-1", "concurrent modification"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}
	if err := db.Retry("op-1"); err != nil {
		t.Fatalf("failed to retry: %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.Status != domain.SyncOpStatusPending {
		t.Errorf("expected PENDING after retry, got %s", head.Status)
	}
	if head.FailureReason != "" {
		t.Errorf("expected failure reason cleared, got %q", head.FailureReason)
	}
}

func TestQueue_CountsAttempts(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.Enqueue(testOp("op-1", domain.SyncOpUpdateLocation)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := db.IncrementAttempts("op-1"); err != nil {
			t.Fatalf("failed to increment attempts: %v", err)
		}
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", head.Attempts)
	}
}

func TestStagedEvidence_RoundTrip(t *testing.T) {
	db, _ := openTestDB(t)

	for _, id := range []string{"ev-1", "ev-2"} {
		err := db.StageEvidence(&StagedEvidence{
			ID:           id,
			AllocationID: "alloc-1",
			Stage:        domain.StageDelivery,
			URI:          "/sdcard/" + id + ".jpg",
			CapturedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("failed to stage evidence: %v", err)
		}
	}

	staged, err := db.StagedEvidenceFor("alloc-1", domain.StageDelivery)
	if err != nil {
		t.Fatalf("failed to list staged evidence: %v", err)
	}
	if len(staged) != 2 || staged[0].ID != "ev-1" {
		t.Fatalf("unexpected staged evidence: %+v", staged)
	}

	if err := db.ClearStagedEvidence("alloc-1", domain.StageDelivery); err != nil {
		t.Fatalf("failed to clear staged evidence: %v", err)
	}
	staged, err = db.StagedEvidenceFor("alloc-1", domain.StageDelivery)
	if err != nil {
		t.Fatalf("failed to list staged evidence: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("expected staging area cleared, got %d items", len(staged))
	}
}

func TestTripState_RoundTrip(t *testing.T) {
	db, _ := openTestDB(t)

	state, err := db.LoadTripState("driver-1")
	if err != nil {
		t.Fatalf("failed to load trip state: %v", err)
	}
	if state != nil {
		t.Fatalf("expected no trip state initially, got %+v", state)
	}

	want := &TripState{
		DriverID:  "driver-1",
		TripID:    "trip-1",
		LedgerID:  "ledger-1",
		StartedAt: time.Now(),
		Queue:     []string{"alloc-1", "alloc-2"},
	}
	if err := db.SaveTripState(want); err != nil {
		t.Fatalf("failed to save trip state: %v", err)
	}

	// Advancing the queue overwrites in place.
	want.Queue = []string{"alloc-2"}
	if err := db.SaveTripState(want); err != nil {
		t.Fatalf("failed to update trip state: %v", err)
	}

	state, err = db.LoadTripState("driver-1")
	if err != nil {
		t.Fatalf("failed to load trip state: %v", err)
	}
	if state.TripID != "trip-1" || len(state.Queue) != 1 || state.Queue[0] != "alloc-2" {
		t.Errorf("unexpected trip state: %+v", state)
	}

	if err := db.ClearTripState("driver-1"); err != nil {
		t.Fatalf("failed to clear trip state: %v", err)
	}
	state, err = db.LoadTripState("driver-1")
	if err != nil {
		t.Fatalf("failed to load trip state: %v", err)
	}
	if state != nil {
		t.Errorf("expected trip state cleared, got %+v", state)
	}
}
