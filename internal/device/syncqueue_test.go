package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"despacho/internal/device/store"
	"despacho/internal/domain"
)

// scriptedServer is a stand-in reconciliation server. Each incoming request
// is recorded and answered by the current respond function.
type scriptedServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)

	*httptest.Server
}

type recordedRequest struct {
	Path           string
	IdempotencyKey string
	Body           map[string]any
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	s := &scriptedServer{}
	s.respond = respondOK
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Path:           r.URL.Path,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			Body:           body,
		})
		respond := s.respond
		s.mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) setRespond(f func(w http.ResponseWriter, r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = f
}

func (s *scriptedServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func respondOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"kind":"ok"}`))
}

func respondRejection(code, message, remaining string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":     message,
			"code":      code,
			"remaining": remaining,
		})
	}
}

func respondServerError(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
}

// fakeEvidenceStorage counts uploads and hands out fake URLs.
type fakeEvidenceStorage struct {
	mu      sync.Mutex
	uploads []string
}

func (f *fakeEvidenceStorage) Upload(_ context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, localPath)
	return "https://evidence.example.com/" + filepath.Base(localPath), nil
}

func newTestQueue(t *testing.T, server *scriptedServer) (*Queue, *store.DB, *fakeEvidenceStorage) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	evidence := &fakeEvidenceStorage{}
	queue := NewQueue(db, NewClient(server.URL, 5*time.Second), evidence, QueueConfig{
		FlushInterval: time.Minute,
		BackoffBase:   time.Millisecond,
		BackoffCap:    10 * time.Millisecond,
		RetryBudget:   24 * time.Hour,
	})
	return queue, db, evidence
}

func TestFlush_SendsOperationsInOrder(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, _ := newTestQueue(t, server)

	var keys []string
	for i := 0; i < 3; i++ {
		op, err := queue.Enqueue("driver-1", domain.SyncOpUpdateLocation, domain.UpdateLocationPayload{
			DriverID: "driver-1",
			Location: domain.Location{Lat: 12.9, Lng: 77.5, Timestamp: time.Now()},
		})
		if err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
		keys = append(keys, op.ID)
	}

	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	requests := server.recorded()
	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}
	for i, req := range requests {
		if req.IdempotencyKey != keys[i] {
			t.Errorf("request %d: expected key %s, got %s", i, keys[i], req.IdempotencyKey)
		}
	}

	if _, err := db.Head(); !errors.Is(err, store.ErrQueueEmpty) {
		t.Errorf("expected drained queue, got %v", err)
	}
}

func TestFlush_ValidationRejectionHaltsQueue(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, _ := newTestQueue(t, server)

	// First completion will be rejected for exceeding remaining fuel; the
	// location update behind it must not jump the line.
	rejected, err := queue.Enqueue("driver-1", domain.SyncOpCompleteDelivery, domain.CompleteDeliveryPayload{
		LedgerID:      "ledger-1",
		AllocationID:  "alloc-1",
		MarkerInitial: "1280",
		MarkerFinal:   "580",
	})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := queue.Enqueue("driver-1", domain.SyncOpUpdateLocation, domain.UpdateLocationPayload{
		DriverID: "driver-1",
		Location: domain.Location{Lat: 1, Lng: 2, Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	server.setRespond(respondRejection("InsufficientRemainingFuel", "delivery exceeds remaining fuel", "580"))

	err = queue.Flush(ctx)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Op.ID != rejected.ID {
		t.Errorf("expected block on %s, got %s", rejected.ID, blocked.Op.ID)
	}

	// Only the rejected operation reached the server.
	if got := len(server.recorded()); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.ID != rejected.ID || head.Status != domain.SyncOpStatusFailed {
		t.Errorf("expected failed %s at head, got %+v", rejected.ID, head)
	}

	// Operator discards the bad completion; the rest of the queue drains.
	server.setRespond(respondOK)
	if err := queue.Discard(rejected.ID); err != nil {
		t.Fatalf("failed to discard: %v", err)
	}
	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush after discard failed: %v", err)
	}
	if _, err := db.Head(); !errors.Is(err, store.ErrQueueEmpty) {
		t.Errorf("expected drained queue after discard, got %v", err)
	}
}

func TestFlush_TransientFailureKeepsOperationPending(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, _ := newTestQueue(t, server)

	op, err := queue.Enqueue("driver-1", domain.SyncOpUpdateLocation, domain.UpdateLocationPayload{
		DriverID: "driver-1",
		Location: domain.Location{Lat: 1, Lng: 2, Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	server.setRespond(respondServerError)
	err = queue.Flush(ctx)
	if err == nil {
		t.Fatal("expected flush to report the transient failure")
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		t.Fatalf("transient failure must not block the queue: %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.Status != domain.SyncOpStatusPending {
		t.Errorf("expected operation still PENDING, got %s", head.Status)
	}
	if head.Attempts != 1 {
		t.Errorf("expected 1 attempt recorded, got %d", head.Attempts)
	}

	// Connectivity returns; the same operation goes through with the same
	// idempotency key.
	server.setRespond(respondOK)
	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush after recovery failed: %v", err)
	}
	requests := server.recorded()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if requests[0].IdempotencyKey != op.ID || requests[1].IdempotencyKey != op.ID {
		t.Error("retries must reuse the original idempotency key")
	}
}

func TestFlush_ConcurrentModificationRetriedOnce(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, _ := newTestQueue(t, server)

	if _, err := queue.Enqueue("driver-1", domain.SyncOpCompleteDelivery, domain.CompleteDeliveryPayload{
		LedgerID:      "ledger-1",
		AllocationID:  "alloc-1",
		MarkerInitial: "2000",
		MarkerFinal:   "1520",
	}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	// First attempt loses the version race, the immediate retry wins.
	var calls int
	server.setRespond(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			respondRejection("ConcurrentModification", "ledger was modified concurrently", "")(w, r)
			return
		}
		respondOK(w, r)
	})

	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if got := len(server.recorded()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if _, err := db.Head(); !errors.Is(err, store.ErrQueueEmpty) {
		t.Errorf("expected drained queue, got %v", err)
	}
}

func TestFlush_RetryBudgetSendsToManualReview(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, _ := newTestQueue(t, server)

	// An operation that has been failing for longer than the budget.
	old := &domain.SyncOperation{
		ID:        "op-stale",
		DriverID:  "driver-1",
		Kind:      domain.SyncOpUpdateLocation,
		Payload:   []byte(`{"driver_id":"driver-1","location":{"lat":1,"lng":2,"timestamp":"2026-08-01T00:00:00Z"}}`),
		CreatedAt: time.Now().Add(-25 * time.Hour),
		Status:    domain.SyncOpStatusPending,
	}
	if err := db.Enqueue(old); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	server.setRespond(respondServerError)
	err := queue.Flush(ctx)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected manual-review block, got %v", err)
	}

	head, err := db.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head.Status != domain.SyncOpStatusFailed {
		t.Errorf("expected FAILED after budget exhaustion, got %s", head.Status)
	}
}

func TestFlush_UploadsEvidenceBeforeSubmission(t *testing.T) {
	ctx := context.Background()
	server := newScriptedServer(t)
	queue, db, evidence := newTestQueue(t, server)

	if _, err := queue.Enqueue("driver-1", domain.SyncOpAttachEvidence, domain.AttachEvidencePayload{
		LedgerID:     "ledger-1",
		AllocationID: "alloc-1",
		Stage:        domain.StageClientConfirmation,
		URL:          "/sdcard/confirmation.jpg",
	}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(evidence.uploads) != 1 || evidence.uploads[0] != "/sdcard/confirmation.jpg" {
		t.Fatalf("expected one upload of the local file, got %v", evidence.uploads)
	}

	requests := server.recorded()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if url, _ := requests[0].Body["url"].(string); url != "https://evidence.example.com/confirmation.jpg" {
		t.Errorf("expected the uploaded URL on the wire, got %q", url)
	}

	if _, err := db.Head(); !errors.Is(err, store.ErrQueueEmpty) {
		t.Errorf("expected drained queue, got %v", err)
	}
}
