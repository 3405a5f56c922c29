package domain

import "time"

// EvidenceStage identifies the point in a delivery at which a piece of
// evidence (photo, signed confirmation) was captured.
type EvidenceStage string

const (
	StageLoadingStart       EvidenceStage = "loading_start"
	StageLoadingEnd         EvidenceStage = "loading_end"
	StageDelivery           EvidenceStage = "delivery"
	StageClientConfirmation EvidenceStage = "client_confirmation"
)

// EvidenceItem is a stored reference to an uploaded evidence file. The engine
// keeps only the URL returned by evidence storage, never raw bytes.
type EvidenceItem struct {
	ID           string
	AllocationID string
	Stage        EvidenceStage
	URL          string
	CapturedAt   time.Time
}
