package postgres

import (
	"context"
	"database/sql"
	"errors"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (id, ledger_id, driver_id, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var endedAt sql.NullTime
	if !trip.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: trip.EndedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.LedgerID,
		trip.DriverID,
		trip.Status,
		trip.StartedAt,
		endedAt,
	)

	return err
}

func scanTrip(row interface{ Scan(...any) error }) (*domain.Trip, error) {
	var trip domain.Trip
	var endedAt sql.NullTime

	err := row.Scan(
		&trip.ID,
		&trip.LedgerID,
		&trip.DriverID,
		&trip.Status,
		&trip.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		trip.EndedAt = endedAt.Time
	}

	return &trip, nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `
		SELECT id, ledger_id, driver_id, status, started_at, ended_at
		FROM trips WHERE id = $1
	`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return trip, nil
}

// Update updates an existing trip.
func (r *TripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	query := `
		UPDATE trips
		SET status = $1, ended_at = $2
		WHERE id = $3
	`

	var endedAt sql.NullTime
	if !trip.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: trip.EndedAt, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query, trip.Status, endedAt, trip.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// GetActiveByDriverID retrieves the active trip for a driver.
// Returns nil if no active trip exists.
func (r *TripRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Trip, error) {
	query := `
		SELECT id, ledger_id, driver_id, status, started_at, ended_at
		FROM trips
		WHERE driver_id = $1 AND status = $2
		LIMIT 1
	`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, driverID, domain.TripStatusActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return trip, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
