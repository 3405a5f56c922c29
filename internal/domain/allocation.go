package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationStatus represents the current status of a client allocation.
type AllocationStatus string

const (
	AllocationStatusPending    AllocationStatus = "PENDING"
	AllocationStatusInProgress AllocationStatus = "IN_PROGRESS"
	AllocationStatusCompleted  AllocationStatus = "COMPLETED"
	AllocationStatusCancelled  AllocationStatus = "CANCELLED"
)

// ClientAllocation is one customer's planned slice of a ledger's fuel.
// SequenceIndex is persisted explicitly: delivery order is a business fact,
// not a side effect of array position.
type ClientAllocation struct {
	ID                string
	LedgerID          string
	CustomerID        string
	SequenceIndex     int
	AllocatedQuantity decimal.Decimal
	DeliveredQuantity decimal.NullDecimal // set only on completion
	Status            AllocationStatus
	MarkerInitial     decimal.NullDecimal
	MarkerFinal       decimal.NullDecimal
	CompletedAt       time.Time
}

// IsTerminal reports whether the allocation can no longer change.
func (a *ClientAllocation) IsTerminal() bool {
	return a.Status == AllocationStatusCompleted || a.Status == AllocationStatusCancelled
}

// Variance is DeliveredQuantity - AllocatedQuantity for a completed
// allocation: positive on over-delivery, negative on under-delivery.
func (a *ClientAllocation) Variance() decimal.Decimal {
	if !a.DeliveredQuantity.Valid {
		return decimal.Zero
	}
	return a.DeliveredQuantity.Decimal.Sub(a.AllocatedQuantity)
}
