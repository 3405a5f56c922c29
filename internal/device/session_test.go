package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"despacho/internal/device/store"
	"despacho/internal/domain"
	"despacho/internal/handler"
)

// newSessionServer serves a minimal reconciliation API: one ledger with three
// allocations (the second cancelled) and trip endpoints. Operation posts are
// acknowledged blindly.
func newSessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ledgers/ledger-1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(handler.LedgerResponse{
			ID:             "ledger-1",
			TruckID:        "truck-1",
			DriverID:       "driver-1",
			FuelType:       "diesel",
			TotalLoaded:    "2000",
			TotalRemaining: "2000",
			Version:        1,
			CreatedAt:      time.Now().Format(time.RFC3339),
			Allocations: []handler.AllocationResponse{
				{ID: "alloc-1", CustomerID: "cust-1", SequenceIndex: 0, AllocatedQuantity: "500", Status: "PENDING"},
				{ID: "alloc-2", CustomerID: "cust-2", SequenceIndex: 1, AllocatedQuantity: "700", Status: "CANCELLED"},
				{ID: "alloc-3", CustomerID: "cust-3", SequenceIndex: 2, AllocatedQuantity: "800", Status: "PENDING"},
			},
		})
	})
	mux.HandleFunc("/v1/trips", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(handler.TripResponse{
			TripID:    "trip-1",
			LedgerID:  "ledger-1",
			DriverID:  "driver-1",
			Status:    "ACTIVE",
			StartedAt: time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/v1/trips/trip-1/end", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(handler.TripResponse{
			TripID:   "trip-1",
			LedgerID: "ledger-1",
			DriverID: "driver-1",
			Status:   "COMPLETED",
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"ok"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type fixedGeolocator struct{ loc domain.Location }

func (g fixedGeolocator) Current(_ context.Context) (domain.Location, error) {
	return g.loc, nil
}

func newTestSession(t *testing.T, serverURL string) (*TripSession, *Queue, *store.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.db")
	return openSessionAt(t, serverURL, path)
}

func openSessionAt(t *testing.T, serverURL, path string) (*TripSession, *Queue, *store.DB, string) {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := NewClient(serverURL, 5*time.Second)
	queue := NewQueue(db, client, &fakeEvidenceStorage{}, QueueConfig{
		FlushInterval: time.Minute,
		BackoffBase:   time.Millisecond,
		BackoffCap:    10 * time.Millisecond,
		RetryBudget:   24 * time.Hour,
	})

	session, err := NewTripSession("driver-1", db, queue, client,
		fixedGeolocator{domain.Location{Lat: 12.9, Lng: 77.5, Timestamp: time.Now()}},
		time.Second)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session, queue, db, path
}

func TestSession_StartBuildsQueueInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	server := newSessionServer(t)
	session, _, _, _ := newTestSession(t, server.URL)

	if err := session.Start(ctx, "ledger-1"); err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	if session.State() != SessionActive {
		t.Errorf("expected ACTIVE session, got %s", session.State())
	}
	if session.TripID() != "trip-1" {
		t.Errorf("expected trip-1, got %s", session.TripID())
	}

	// The cancelled allocation never enters the queue.
	if next := session.NextAllocation(); next != "alloc-1" {
		t.Errorf("expected alloc-1 first, got %s", next)
	}

	// Starting again while active is rejected.
	if err := session.Start(ctx, "ledger-1"); !errors.Is(err, ErrTripAlreadyActive) {
		t.Errorf("expected ErrTripAlreadyActive, got %v", err)
	}
}

func TestSession_CompleteDeliveryEnforcesLocalOrder(t *testing.T) {
	ctx := context.Background()
	server := newSessionServer(t)
	session, _, _, _ := newTestSession(t, server.URL)

	if err := session.Start(ctx, "ledger-1"); err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	// alloc-3 is behind alloc-1 in the plan.
	err := session.CompleteDelivery("alloc-3", "2000", "1500")
	if !errors.Is(err, ErrDeliveryOutOfTurn) {
		t.Errorf("expected ErrDeliveryOutOfTurn, got %v", err)
	}
}

func TestSession_CompleteDeliveryQueuesEvidenceThenCompletion(t *testing.T) {
	ctx := context.Background()
	server := newSessionServer(t)
	session, queue, _, _ := newTestSession(t, server.URL)

	if err := session.Start(ctx, "ledger-1"); err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	if err := session.RecordStageEvidence("alloc-1", domain.StageDelivery, "/sdcard/pump.jpg"); err != nil {
		t.Fatalf("failed to stage evidence: %v", err)
	}
	if err := session.RecordStageEvidence("alloc-1", domain.StageClientConfirmation, "/sdcard/signature.jpg"); err != nil {
		t.Fatalf("failed to stage evidence: %v", err)
	}

	if err := session.CompleteDelivery("alloc-1", "2000", "1520"); err != nil {
		t.Fatalf("failed to complete delivery: %v", err)
	}

	pending, err := queue.Pending()
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 2 evidence ops + 1 completion, got %d", len(pending))
	}
	for _, op := range pending[:2] {
		if op.Kind != domain.SyncOpAttachEvidence {
			t.Errorf("expected evidence before completion, got %s", op.Kind)
		}
	}
	if pending[2].Kind != domain.SyncOpCompleteDelivery {
		t.Errorf("expected completion last, got %s", pending[2].Kind)
	}

	var payload domain.CompleteDeliveryPayload
	if err := json.Unmarshal(pending[2].Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.MarkerInitial != "2000" || payload.MarkerFinal != "1520" {
		t.Errorf("unexpected marker readings: %+v", payload)
	}

	// The local queue advanced past alloc-1 and the cancelled alloc-2.
	if next := session.NextAllocation(); next != "alloc-3" {
		t.Errorf("expected alloc-3 next, got %s", next)
	}
}

func TestSession_SurvivesRestartMidTrip(t *testing.T) {
	ctx := context.Background()
	server := newSessionServer(t)
	session, _, db, path := newTestSession(t, server.URL)

	if err := session.Start(ctx, "ledger-1"); err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}
	if err := session.CompleteDelivery("alloc-1", "2000", "1520"); err != nil {
		t.Fatalf("failed to complete delivery: %v", err)
	}

	// Simulate an app restart: close and rebuild everything from disk.
	db.Close()
	restored, queue, _, _ := openSessionAt(t, server.URL, path)

	if restored.State() != SessionActive {
		t.Fatalf("expected restored ACTIVE session, got %s", restored.State())
	}
	if restored.TripID() != "trip-1" {
		t.Errorf("expected trip-1 after restart, got %s", restored.TripID())
	}
	if next := restored.NextAllocation(); next != "alloc-3" {
		t.Errorf("expected alloc-3 next after restart, got %s", next)
	}

	// The unflushed completion survived too.
	pending, err := queue.Pending()
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != domain.SyncOpCompleteDelivery {
		t.Fatalf("expected the queued completion to survive restart, got %+v", pending)
	}
}

func TestSession_EndRequiresSettledQueue(t *testing.T) {
	ctx := context.Background()
	server := newSessionServer(t)
	session, queue, _, _ := newTestSession(t, server.URL)

	if err := session.Start(ctx, "ledger-1"); err != nil {
		t.Fatalf("failed to start trip: %v", err)
	}

	// Deliveries still open.
	if err := session.End(ctx); !errors.Is(err, ErrOpenDeliveries) {
		t.Errorf("expected ErrOpenDeliveries, got %v", err)
	}

	if err := session.CompleteDelivery("alloc-1", "2000", "1520"); err != nil {
		t.Fatalf("failed to complete delivery: %v", err)
	}
	if err := session.CompleteDelivery("alloc-3", "1520", "720"); err != nil {
		t.Fatalf("failed to complete delivery: %v", err)
	}

	// Local queue is empty but the sync queue has not flushed yet.
	if err := session.End(ctx); !errors.Is(err, ErrOpenDeliveries) {
		t.Errorf("expected ErrOpenDeliveries while operations are queued, got %v", err)
	}

	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if err := session.End(ctx); err != nil {
		t.Fatalf("failed to end trip: %v", err)
	}
	if session.State() != SessionCompleted {
		t.Errorf("expected COMPLETED session, got %s", session.State())
	}

	// Ending twice is rejected.
	if err := session.End(ctx); !errors.Is(err, ErrNoActiveTrip) {
		t.Errorf("expected ErrNoActiveTrip, got %v", err)
	}
}
