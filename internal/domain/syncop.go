package domain

import (
	"encoding/json"
	"time"
)

// SyncOperationKind identifies the mutation a queued operation carries.
type SyncOperationKind string

const (
	SyncOpCompleteDelivery SyncOperationKind = "COMPLETE_DELIVERY"
	SyncOpUpdateLocation   SyncOperationKind = "UPDATE_LOCATION"
	SyncOpAttachEvidence   SyncOperationKind = "ATTACH_EVIDENCE"
)

// SyncOperationStatus represents the lifecycle of a queued operation.
// Every operation ends in SYNCED or FAILED; nothing is silently dropped.
type SyncOperationStatus string

const (
	SyncOpStatusPending SyncOperationStatus = "PENDING"
	SyncOpStatusSynced  SyncOperationStatus = "SYNCED"
	SyncOpStatusFailed  SyncOperationStatus = "FAILED"
)

// SyncOperation is a single queued mutation intent. ID doubles as the
// idempotency key: the server deduplicates on it so a retried request that
// actually landed is a replay, not a double-delivery.
type SyncOperation struct {
	ID            string
	DriverID      string
	Kind          SyncOperationKind
	Payload       json.RawMessage
	CreatedAt     time.Time
	Attempts      int
	Status        SyncOperationStatus
	FailureReason string
}

// CompleteDeliveryPayload is the payload for COMPLETE_DELIVERY operations.
// Quantities travel as strings to keep decimal precision across the wire.
// DeliveredQuantity is honored only when marker readings are absent;
// otherwise the delivered amount is always marker_initial - marker_final.
type CompleteDeliveryPayload struct {
	LedgerID          string `json:"ledger_id"`
	AllocationID      string `json:"allocation_id"`
	MarkerInitial     string `json:"marker_initial,omitempty"`
	MarkerFinal       string `json:"marker_final,omitempty"`
	DeliveredQuantity string `json:"delivered_quantity,omitempty"`
}

// UpdateLocationPayload is the payload for UPDATE_LOCATION operations.
type UpdateLocationPayload struct {
	DriverID string   `json:"driver_id"`
	Location Location `json:"location"`
}

// AttachEvidencePayload is the payload for ATTACH_EVIDENCE operations.
type AttachEvidencePayload struct {
	LedgerID     string        `json:"ledger_id"`
	AllocationID string        `json:"allocation_id"`
	Stage        EvidenceStage `json:"stage"`
	URL          string        `json:"url"`
}
