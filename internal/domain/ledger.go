package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FuelLedger is the per-truck-loading fuel accounting record. TotalLoaded is
// fixed when the truck is loaded; TotalRemaining only moves when a child
// allocation completes. Conservation invariant:
//
//	TotalRemaining = TotalLoaded - Σ(DeliveredQuantity of completed allocations)
type FuelLedger struct {
	ID             string
	TruckID        string
	DriverID       string
	FuelType       string
	TotalLoaded    decimal.Decimal
	TotalRemaining decimal.Decimal
	IsCompleted    bool
	Version        int64 // bumped on every write; optimistic concurrency guard
	CreatedAt      time.Time
	CompletedAt    time.Time
}

// HasRemaining reports whether the ledger still has fuel to dispense.
func (l *FuelLedger) HasRemaining() bool {
	return l.TotalRemaining.IsPositive()
}

// LedgerSnapshot is the ledger plus its allocations, ordered by sequence
// index. Returned to clients after every reconciled mutation so devices can
// replace optimistic local state with authoritative server state.
type LedgerSnapshot struct {
	Ledger      *FuelLedger
	Allocations []*ClientAllocation
}
