package postgres

import (
	"context"
	"database/sql"
	"errors"

	"despacho/internal/domain"
	"despacho/internal/repository"
)

// DirectoryRepository is a PostgreSQL implementation of
// repository.DirectoryRepository. Lookups only; the directory tables are
// maintained outside the engine.
type DirectoryRepository struct {
	q Querier
}

// NewDirectoryRepository creates a new PostgreSQL directory repository.
func NewDirectoryRepository(db *sql.DB) *DirectoryRepository {
	return &DirectoryRepository{q: db}
}

// GetTruck retrieves a truck by ID.
func (r *DirectoryRepository) GetTruck(ctx context.Context, id string) (*domain.Truck, error) {
	query := `SELECT id, plate, capacity, fuel_type FROM trucks WHERE id = $1`

	var truck domain.Truck
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&truck.ID,
		&truck.Plate,
		&truck.Capacity,
		&truck.FuelType,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &truck, nil
}

// GetDriver retrieves a driver by ID.
func (r *DirectoryRepository) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT id, name, phone FROM drivers WHERE id = $1`

	var driver domain.Driver
	err := r.q.QueryRowContext(ctx, query, id).Scan(&driver.ID, &driver.Name, &driver.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &driver, nil
}

// GetCustomer retrieves a customer by ID.
func (r *DirectoryRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT id, name, address FROM customers WHERE id = $1`

	var customer domain.Customer
	err := r.q.QueryRowContext(ctx, query, id).Scan(&customer.ID, &customer.Name, &customer.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &customer, nil
}

// Ensure DirectoryRepository implements repository.DirectoryRepository.
var _ repository.DirectoryRepository = (*DirectoryRepository)(nil)
