package postgres

import (
	"context"
	"database/sql"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// DispatchRepository is a PostgreSQL implementation of
// repository.DispatchRepository.
type DispatchRepository struct {
	q Querier
}

// NewDispatchRepository creates a new PostgreSQL dispatch repository.
func NewDispatchRepository(db *sql.DB) *DispatchRepository {
	return &DispatchRepository{q: db}
}

// Create persists a new dispatch record.
func (r *DispatchRepository) Create(ctx context.Context, record *domain.DispatchRecord) error {
	query := `
		INSERT INTO dispatch_records (id, driver_id, ledger_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query,
		record.ID,
		record.DriverID,
		nullUUID(record.LedgerID),
		[]byte(record.Detail),
		record.CreatedAt,
	)

	return err
}

// nullUUID maps an optional uuid field to its column value. An empty string
// is not a valid uuid literal, so it has to go over the wire as NULL.
func nullUUID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// ListByDriverID retrieves dispatch records for a driver, newest first.
func (r *DispatchRepository) ListByDriverID(ctx context.Context, driverID string) ([]*domain.DispatchRecord, error) {
	query := `
		SELECT id, driver_id, ledger_id, detail, created_at
		FROM dispatch_records
		WHERE driver_id = $1
		ORDER BY created_at DESC LIMIT 100
	`

	rows, err := r.q.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DispatchRecord
	for rows.Next() {
		var record domain.DispatchRecord
		var detail []byte
		var ledgerID sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.DriverID,
			&ledgerID,
			&detail,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}

		record.LedgerID = ledgerID.String
		record.Detail = detail
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Ensure DispatchRepository implements repository.DispatchRepository.
var _ repository.DispatchRepository = (*DispatchRepository)(nil)
