package domain

import "github.com/shopspring/decimal"

// Truck is a fuel truck in the directory. Directory entities are read-only
// lookups; the engine never mutates them.
type Truck struct {
	ID       string
	Plate    string
	Capacity decimal.Decimal
	FuelType string
}

// Driver is a registered truck driver.
type Driver struct {
	ID    string
	Name  string
	Phone string
}

// Customer is a fuel delivery destination.
type Customer struct {
	ID      string
	Name    string
	Address string
}
