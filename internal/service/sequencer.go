package service

import "despacho/internal/domain"

// DeliverySequencer decides which allocation of a trip may move to
// IN_PROGRESS. A truck dispenses in planned order so that marker readings
// stay meaningful; starting a later allocation while an earlier one is open
// would make its initial marker ambiguous.
type DeliverySequencer struct{}

// NewDeliverySequencer creates a new DeliverySequencer.
func NewDeliverySequencer() *DeliverySequencer {
	return &DeliverySequencer{}
}

// CanStart reports whether the allocation may transition to IN_PROGRESS given
// its siblings. allocations must be ordered by sequence index. Cancelled
// predecessors are skipped; only Pending or InProgress ones block.
func (s *DeliverySequencer) CanStart(allocationID string, allocations []*domain.ClientAllocation) bool {
	for _, a := range allocations {
		if a.ID == allocationID {
			return a.Status == domain.AllocationStatusPending
		}
		if !a.IsTerminal() {
			return false
		}
	}
	return false
}

// CheckComplete verifies that completing the allocation respects the planned
// order: every allocation with a lower sequence index must be terminal.
// Returns ErrOutOfSequenceDelivery otherwise.
func (s *DeliverySequencer) CheckComplete(allocationID string, allocations []*domain.ClientAllocation) error {
	for _, a := range allocations {
		if a.ID == allocationID {
			return nil
		}
		if !a.IsTerminal() {
			return ErrOutOfSequenceDelivery
		}
	}
	return ErrInvalidAllocationID
}

// NextStartable returns the first allocation that may be started, or nil if
// none remain.
func (s *DeliverySequencer) NextStartable(allocations []*domain.ClientAllocation) *domain.ClientAllocation {
	for _, a := range allocations {
		if a.Status == domain.AllocationStatusPending {
			return a
		}
		if !a.IsTerminal() {
			return nil // an in-progress delivery blocks everything behind it
		}
	}
	return nil
}
