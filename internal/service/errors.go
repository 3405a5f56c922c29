package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveQuantity is returned when a delivered quantity is zero or
	// negative.
	ErrNonPositiveQuantity = errors.New("delivered quantity must be positive")

	// ErrInvalidAllocationState is returned when an allocation is not in the
	// state the operation requires.
	ErrInvalidAllocationState = errors.New("allocation not in a valid state for this operation")

	// ErrOutOfSequenceDelivery is returned when a delivery is started or
	// completed before its predecessors in the trip queue are terminal.
	ErrOutOfSequenceDelivery = errors.New("delivery attempted out of sequence")

	// ErrInsufficientRemainingFuel is the sentinel for conservation failures;
	// the returned error is an *InsufficientFuelError carrying the amount.
	ErrInsufficientRemainingFuel = errors.New("insufficient remaining fuel")

	// ErrConcurrentModification is returned when an apply loses the version
	// race against another writer on the same ledger.
	ErrConcurrentModification = errors.New("ledger modified concurrently")

	// ErrInvalidMarkerReadings is returned when marker readings do not yield
	// a usable delivered quantity.
	ErrInvalidMarkerReadings = errors.New("invalid marker readings")

	// ErrLedgerCompleted is returned when mutating an archived ledger.
	ErrLedgerCompleted = errors.New("ledger already completed")

	// ErrInvalidLedgerID is returned when ledger ID is empty.
	ErrInvalidLedgerID = errors.New("invalid ledger id")

	// ErrInvalidAllocationID is returned when allocation ID is empty.
	ErrInvalidAllocationID = errors.New("invalid allocation id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrDriverHasActiveTrip is returned when a driver already has an active trip.
	ErrDriverHasActiveTrip = errors.New("driver already has an active trip")

	// ErrCannotEndActiveTrip is returned when ending a trip that still has
	// pending or in-progress allocations.
	ErrCannotEndActiveTrip = errors.New("trip has unfinished allocations")

	// ErrTripAlreadyEnded is returned when ending an already ended trip.
	ErrTripAlreadyEnded = errors.New("trip already ended")

	// ErrUnknownOperationKind is returned for a sync operation the server
	// does not recognize.
	ErrUnknownOperationKind = errors.New("unknown sync operation kind")

	// ErrLocationUnavailable is returned when the geolocation provider times
	// out or access is denied.
	ErrLocationUnavailable = errors.New("location unavailable")
)

// InsufficientFuelError reports a delivery that would drive a ledger's
// remaining fuel below the tolerance. Remaining is the authoritative amount
// so the operator can correct the entered quantity.
type InsufficientFuelError struct {
	LedgerID  string
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *InsufficientFuelError) Error() string {
	return fmt.Sprintf("insufficient remaining fuel on ledger %s: requested %s, remaining %s",
		e.LedgerID, e.Requested, e.Remaining)
}

// Is makes errors.Is(err, ErrInsufficientRemainingFuel) match.
func (e *InsufficientFuelError) Is(target error) bool {
	return target == ErrInsufficientRemainingFuel
}
