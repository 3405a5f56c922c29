package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"despacho/internal/device/store"
	"despacho/internal/domain"
)

// Session errors.
var (
	ErrNoActiveTrip      = errors.New("device: no active trip")
	ErrTripAlreadyActive = errors.New("device: a trip is already active")
	ErrDeliveryOutOfTurn = errors.New("device: allocation is not next in the delivery queue")
	ErrOpenDeliveries    = errors.New("device: open deliveries remain on the trip")
)

// Geolocator provides the device's current GPS fix.
type Geolocator interface {
	Current(ctx context.Context) (domain.Location, error)
}

// SessionState is the lifecycle of an in-vehicle trip session.
type SessionState string

const (
	SessionNotStarted SessionState = "NOT_STARTED"
	SessionActive     SessionState = "ACTIVE"
	SessionCompleted  SessionState = "COMPLETED"
)

// TripSession is the in-vehicle side of a trip. It tracks the delivery queue
// in sequence order, stages evidence locally, and converts driver actions
// into durable sync operations. All server effects go through the sync queue,
// so the session works identically online and offline once the trip started.
type TripSession struct {
	mu sync.Mutex

	driverID   string
	state      SessionState
	tripID     string
	ledgerID   string
	startedAt  time.Time
	queue      []string
	store      *store.DB
	syncQueue  *Queue
	client     *Client
	geo        Geolocator
	gpsTimeout time.Duration
}

// NewTripSession creates a session for a driver, restoring any trip that was
// active before the app restarted.
func NewTripSession(driverID string, db *store.DB, syncQueue *Queue, client *Client, geo Geolocator, gpsTimeout time.Duration) (*TripSession, error) {
	s := &TripSession{
		driverID:   driverID,
		state:      SessionNotStarted,
		store:      db,
		syncQueue:  syncQueue,
		client:     client,
		geo:        geo,
		gpsTimeout: gpsTimeout,
	}

	persisted, err := db.LoadTripState(driverID)
	if err != nil {
		return nil, err
	}
	if persisted != nil {
		s.state = SessionActive
		s.tripID = persisted.TripID
		s.ledgerID = persisted.LedgerID
		s.startedAt = persisted.StartedAt
		s.queue = persisted.Queue
	}
	return s, nil
}

// State returns the current session state.
func (s *TripSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TripID returns the active trip ID, empty when no trip is active.
func (s *TripSession) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID
}

// NextAllocation returns the allocation the driver must serve next, empty
// when the queue is exhausted.
func (s *TripSession) NextAllocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return ""
	}
	return s.queue[0]
}

// Start begins a trip for a ledger. Starting requires connectivity, it
// happens at the depot: the session fetches the ledger, registers the trip
// server-side and builds the local delivery queue from the open allocations
// in sequence order.
func (s *TripSession) Start(ctx context.Context, ledgerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionActive {
		return ErrTripAlreadyActive
	}

	ledger, err := s.client.GetLedger(ctx, ledgerID)
	if err != nil {
		return err
	}

	trip, err := s.client.StartTrip(ctx, ledgerID, s.driverID)
	if err != nil {
		return err
	}

	var queue []string
	for _, alloc := range ledger.Allocations {
		status := domain.AllocationStatus(alloc.Status)
		if status == domain.AllocationStatusPending || status == domain.AllocationStatusInProgress {
			queue = append(queue, alloc.ID)
		}
	}

	started, err := time.Parse(time.RFC3339, trip.StartedAt)
	if err != nil {
		started = time.Now()
	}
	if err := s.store.SaveTripState(&store.TripState{
		DriverID:  s.driverID,
		TripID:    trip.TripID,
		LedgerID:  ledgerID,
		StartedAt: started,
		Queue:     queue,
	}); err != nil {
		return err
	}

	s.state = SessionActive
	s.tripID = trip.TripID
	s.ledgerID = ledgerID
	s.startedAt = started
	s.queue = queue
	return nil
}

// RecordStageEvidence captures an evidence file for an allocation stage. The
// file stays staged on the device until the stage completes; nothing is
// uploaded yet.
func (s *TripSession) RecordStageEvidence(allocationID string, stage domain.EvidenceStage, localURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return ErrNoActiveTrip
	}
	return s.store.StageEvidence(&store.StagedEvidence{
		ID:           uuid.New().String(),
		AllocationID: allocationID,
		Stage:        stage,
		URI:          localURI,
		CapturedAt:   time.Now(),
	})
}

// CompleteStage submits the staged evidence for an allocation stage as
// ATTACH_EVIDENCE operations and clears the staging area.
func (s *TripSession) CompleteStage(allocationID string, stage domain.EvidenceStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return ErrNoActiveTrip
	}
	return s.enqueueStagedEvidence(allocationID, stage)
}

// CompleteDelivery finishes the delivery at the head of the queue. Remaining
// staged evidence for the allocation is submitted first, then the
// COMPLETE_DELIVERY operation with the truck marker readings. The queue
// advances locally; the ledger decrement itself happens server-side when the
// operation flushes.
func (s *TripSession) CompleteDelivery(allocationID, markerInitial, markerFinal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return ErrNoActiveTrip
	}
	if len(s.queue) == 0 || s.queue[0] != allocationID {
		return ErrDeliveryOutOfTurn
	}

	for _, stage := range []domain.EvidenceStage{
		domain.StageLoadingStart,
		domain.StageLoadingEnd,
		domain.StageDelivery,
		domain.StageClientConfirmation,
	} {
		if err := s.enqueueStagedEvidence(allocationID, stage); err != nil {
			return err
		}
	}

	_, err := s.syncQueue.Enqueue(s.driverID, domain.SyncOpCompleteDelivery, domain.CompleteDeliveryPayload{
		LedgerID:      s.ledgerID,
		AllocationID:  allocationID,
		MarkerInitial: markerInitial,
		MarkerFinal:   markerFinal,
	})
	if err != nil {
		return err
	}

	s.queue = s.queue[1:]
	return s.persistLocked()
}

// SkipDelivery drops a cancelled allocation from the local queue without
// completing it. The cancellation itself is a dispatcher action, the device
// only keeps its queue in step.
func (s *TripSession) SkipDelivery(allocationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return ErrNoActiveTrip
	}
	for i, id := range s.queue {
		if id == allocationID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrDeliveryOutOfTurn
}

// RecordLocation takes a GPS fix and queues it as an UPDATE_LOCATION
// operation. A fix that does not arrive within the GPS timeout is skipped;
// the trip carries on without location.
func (s *TripSession) RecordLocation(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return ErrNoActiveTrip
	}
	driverID := s.driverID
	s.mu.Unlock()

	fixCtx, cancel := context.WithTimeout(ctx, s.gpsTimeout)
	defer cancel()

	loc, err := s.geo.Current(fixCtx)
	if err != nil {
		log.Printf("gps fix unavailable, skipping location update: %v", err)
		return nil
	}

	_, err = s.syncQueue.Enqueue(driverID, domain.SyncOpUpdateLocation, domain.UpdateLocationPayload{
		DriverID: driverID,
		Location: loc,
	})
	return err
}

// End closes the trip. Every delivery must be settled locally and the sync
// queue drained so the server sees all completions before the trip end.
func (s *TripSession) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionActive {
		return ErrNoActiveTrip
	}
	if len(s.queue) > 0 {
		return ErrOpenDeliveries
	}

	pending, err := s.syncQueue.Pending()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d operations still queued", ErrOpenDeliveries, len(pending))
	}

	if _, err := s.client.EndTrip(ctx, s.tripID); err != nil {
		return err
	}

	// Best effort: drop off the dispatcher's fleet view. The position key
	// expires on its own if this call fails.
	if err := s.client.ClearLocation(ctx, s.driverID); err != nil {
		log.Printf("clear location for driver %s: %v", s.driverID, err)
	}

	if err := s.store.ClearTripState(s.driverID); err != nil {
		return err
	}

	s.state = SessionCompleted
	s.tripID = ""
	s.queue = nil
	return nil
}

func (s *TripSession) enqueueStagedEvidence(allocationID string, stage domain.EvidenceStage) error {
	staged, err := s.store.StagedEvidenceFor(allocationID, stage)
	if err != nil {
		return err
	}
	for _, ev := range staged {
		_, err := s.syncQueue.Enqueue(s.driverID, domain.SyncOpAttachEvidence, domain.AttachEvidencePayload{
			LedgerID:     s.ledgerID,
			AllocationID: allocationID,
			Stage:        stage,
			URL:          ev.URI,
		})
		if err != nil {
			return err
		}
	}
	return s.store.ClearStagedEvidence(allocationID, stage)
}

func (s *TripSession) persistLocked() error {
	return s.store.SaveTripState(&store.TripState{
		DriverID:  s.driverID,
		TripID:    s.tripID,
		LedgerID:  s.ledgerID,
		StartedAt: s.startedAt,
		Queue:     s.queue,
	})
}
