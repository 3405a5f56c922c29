package domain

import (
	"encoding/json"
	"time"
)

// DispatchRecord is an append-only audit entry for a driver's dispatch
// (despacho). Informational only: it is never read back into the ledger
// conservation invariant.
type DispatchRecord struct {
	ID        string
	DriverID  string
	LedgerID  string
	Detail    json.RawMessage
	CreatedAt time.Time
}
