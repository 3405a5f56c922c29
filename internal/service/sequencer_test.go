package service

import (
	"errors"
	"testing"

	"despacho/internal/domain"
)

func seqAllocations(statuses ...domain.AllocationStatus) []*domain.ClientAllocation {
	out := make([]*domain.ClientAllocation, len(statuses))
	for i, status := range statuses {
		out[i] = &domain.ClientAllocation{
			ID:            string(rune('a' + i)),
			SequenceIndex: i,
			Status:        status,
		}
	}
	return out
}

func TestCanStart_FirstPendingAllocation(t *testing.T) {
	s := NewDeliverySequencer()
	allocs := seqAllocations(domain.AllocationStatusPending, domain.AllocationStatusPending)

	if !s.CanStart("a", allocs) {
		t.Error("first pending allocation should be startable")
	}
}

func TestCanStart_BlockedByOpenPredecessor(t *testing.T) {
	s := NewDeliverySequencer()

	// A pending predecessor blocks.
	allocs := seqAllocations(domain.AllocationStatusPending, domain.AllocationStatusPending)
	if s.CanStart("b", allocs) {
		t.Error("second allocation must not start while the first is pending")
	}

	// So does an in-progress one.
	allocs = seqAllocations(domain.AllocationStatusInProgress, domain.AllocationStatusPending)
	if s.CanStart("b", allocs) {
		t.Error("second allocation must not start while the first is in progress")
	}
}

func TestCanStart_SkipsTerminalPredecessors(t *testing.T) {
	s := NewDeliverySequencer()

	allocs := seqAllocations(
		domain.AllocationStatusCompleted,
		domain.AllocationStatusCancelled,
		domain.AllocationStatusPending,
	)
	if !s.CanStart("c", allocs) {
		t.Error("completed and cancelled predecessors should not block")
	}
}

func TestCanStart_RejectsNonPending(t *testing.T) {
	s := NewDeliverySequencer()

	allocs := seqAllocations(domain.AllocationStatusInProgress)
	if s.CanStart("a", allocs) {
		t.Error("an allocation already in progress is not startable again")
	}

	if s.CanStart("missing", allocs) {
		t.Error("unknown allocation must not be startable")
	}
}

func TestCheckComplete_OutOfSequence(t *testing.T) {
	s := NewDeliverySequencer()

	allocs := seqAllocations(domain.AllocationStatusPending, domain.AllocationStatusInProgress)
	if err := s.CheckComplete("b", allocs); !errors.Is(err, ErrOutOfSequenceDelivery) {
		t.Errorf("expected ErrOutOfSequenceDelivery, got %v", err)
	}

	allocs = seqAllocations(domain.AllocationStatusCancelled, domain.AllocationStatusInProgress)
	if err := s.CheckComplete("b", allocs); err != nil {
		t.Errorf("cancelled predecessor should not block completion, got %v", err)
	}
}

func TestCheckComplete_UnknownAllocation(t *testing.T) {
	s := NewDeliverySequencer()

	allocs := seqAllocations(domain.AllocationStatusCompleted)
	if err := s.CheckComplete("missing", allocs); !errors.Is(err, ErrInvalidAllocationID) {
		t.Errorf("expected ErrInvalidAllocationID, got %v", err)
	}
}

func TestNextStartable(t *testing.T) {
	s := NewDeliverySequencer()

	allocs := seqAllocations(
		domain.AllocationStatusCompleted,
		domain.AllocationStatusCancelled,
		domain.AllocationStatusPending,
		domain.AllocationStatusPending,
	)
	next := s.NextStartable(allocs)
	if next == nil || next.ID != "c" {
		t.Fatalf("expected allocation c next, got %v", next)
	}

	// An in-progress delivery blocks everything behind it.
	allocs = seqAllocations(domain.AllocationStatusInProgress, domain.AllocationStatusPending)
	if next := s.NextStartable(allocs); next != nil {
		t.Errorf("expected none startable behind an in-progress delivery, got %s", next.ID)
	}

	// Nothing left.
	allocs = seqAllocations(domain.AllocationStatusCompleted, domain.AllocationStatusCancelled)
	if next := s.NextStartable(allocs); next != nil {
		t.Errorf("expected none startable on an exhausted plan, got %s", next.ID)
	}
}
