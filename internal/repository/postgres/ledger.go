package postgres

import (
	"context"
	"database/sql"
	"errors"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// LedgerRepository is a PostgreSQL implementation of repository.LedgerRepository.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{q: db}
}

// NewLedgerRepositoryWithTx creates a ledger repository using a transaction.
func NewLedgerRepositoryWithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

// Create persists a new ledger.
func (r *LedgerRepository) Create(ctx context.Context, ledger *domain.FuelLedger) error {
	query := `
		INSERT INTO fuel_ledgers (id, truck_id, driver_id, fuel_type, total_loaded, total_remaining, is_completed, version, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var completedAt sql.NullTime
	if !ledger.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: ledger.CompletedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		ledger.ID,
		ledger.TruckID,
		ledger.DriverID,
		ledger.FuelType,
		ledger.TotalLoaded,
		ledger.TotalRemaining,
		ledger.IsCompleted,
		ledger.Version,
		ledger.CreatedAt,
		completedAt,
	)

	return err
}

const ledgerColumns = `id, truck_id, driver_id, fuel_type, total_loaded, total_remaining, is_completed, version, created_at, completed_at`

func scanLedger(row interface{ Scan(...any) error }) (*domain.FuelLedger, error) {
	var ledger domain.FuelLedger
	var completedAt sql.NullTime

	err := row.Scan(
		&ledger.ID,
		&ledger.TruckID,
		&ledger.DriverID,
		&ledger.FuelType,
		&ledger.TotalLoaded,
		&ledger.TotalRemaining,
		&ledger.IsCompleted,
		&ledger.Version,
		&ledger.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		ledger.CompletedAt = completedAt.Time
	}

	return &ledger, nil
}

// GetByID retrieves a ledger by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.FuelLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM fuel_ledgers WHERE id = $1`

	ledger, err := scanLedger(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return ledger, nil
}

// GetActiveByDriverID retrieves the open ledger assigned to a driver.
// Returns nil if no open ledger exists.
func (r *LedgerRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.FuelLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM fuel_ledgers WHERE driver_id = $1 AND is_completed = FALSE LIMIT 1`

	ledger, err := scanLedger(r.q.QueryRowContext(ctx, query, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return ledger, nil
}

// List retrieves ledgers, newest first, optionally filtered on completion.
func (r *LedgerRepository) List(ctx context.Context, completed *bool) ([]*domain.FuelLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM fuel_ledgers`
	var args []any
	if completed != nil {
		query += ` WHERE is_completed = $1`
		args = append(args, *completed)
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []*domain.FuelLedger
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, ledger)
	}

	return ledgers, rows.Err()
}

// UpdateWithVersion writes the ledger only if the stored version still
// matches expectedVersion. The WHERE clause on version is the optimistic
// guard: two near-simultaneous completions on the same ledger cannot both
// pass, so total_remaining can never be decremented twice for one delivery.
func (r *LedgerRepository) UpdateWithVersion(ctx context.Context, ledger *domain.FuelLedger, expectedVersion int64) error {
	query := `
		UPDATE fuel_ledgers
		SET total_remaining = $1, is_completed = $2, completed_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`

	var completedAt sql.NullTime
	if !ledger.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: ledger.CompletedAt, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		ledger.TotalRemaining,
		ledger.IsCompleted,
		completedAt,
		ledger.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrVersionConflict
	}

	ledger.Version = expectedVersion + 1
	return nil
}

// Ensure LedgerRepository implements repository.LedgerRepository.
var _ repository.LedgerRepository = (*LedgerRepository)(nil)
