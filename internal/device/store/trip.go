package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TripState is the persisted shape of an active trip session. Queue holds the
// allocation IDs still open on the device, in delivery order.
type TripState struct {
	DriverID  string
	TripID    string
	LedgerID  string
	StartedAt time.Time
	Queue     []string
}

// SaveTripState upserts the active trip for a driver.
func (db *DB) SaveTripState(ts *TripState) error {
	queue, err := json.Marshal(ts.Queue)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO trip_state (driver_id, trip_id, ledger_id, started_at, queue)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(driver_id) DO UPDATE SET
			trip_id = excluded.trip_id,
			ledger_id = excluded.ledger_id,
			started_at = excluded.started_at,
			queue = excluded.queue`,
		ts.DriverID, ts.TripID, ts.LedgerID,
		ts.StartedAt.UTC().Format(time.RFC3339Nano), string(queue),
	)
	if err != nil {
		return fmt.Errorf("save trip state: %w", err)
	}
	return nil
}

// LoadTripState returns the persisted trip for a driver, or nil when the
// device has no active trip.
func (db *DB) LoadTripState(driverID string) (*TripState, error) {
	row := db.QueryRow(`
		SELECT driver_id, trip_id, ledger_id, started_at, queue
		FROM trip_state WHERE driver_id = ?`, driverID)

	var (
		ts        TripState
		startedAt string
		queue     string
	)
	err := row.Scan(&ts.DriverID, &ts.TripID, &ts.LedgerID, &startedAt, &queue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trip state: %w", err)
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	ts.StartedAt = started
	if err := json.Unmarshal([]byte(queue), &ts.Queue); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &ts, nil
}

// ClearTripState removes the active trip after it ends.
func (db *DB) ClearTripState(driverID string) error {
	_, err := db.Exec(`DELETE FROM trip_state WHERE driver_id = ?`, driverID)
	if err != nil {
		return fmt.Errorf("clear trip state: %w", err)
	}
	return nil
}
