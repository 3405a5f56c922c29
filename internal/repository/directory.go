package repository

import (
	"context"

	"despacho/internal/domain"
)

// DirectoryRepository provides read-only lookups of trucks, drivers and
// customers. The engine consumes the directory; it never writes to it.
type DirectoryRepository interface {
	GetTruck(ctx context.Context, id string) (*domain.Truck, error)
	GetDriver(ctx context.Context, id string) (*domain.Driver, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}
