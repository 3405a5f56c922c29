package domain

import "time"

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusActive    TripStatus = "ACTIVE"
	TripStatusCompleted TripStatus = "COMPLETED"
)

// Trip is the server-side record of one driver's execution of a ledger's
// allocations. At most one active trip exists per driver; the in-vehicle
// session state (queue, staged evidence) lives on the device.
type Trip struct {
	ID        string
	LedgerID  string
	DriverID  string
	Status    TripStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Location is a GPS fix reported by a driver's device.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
