package postgres

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS fuel_ledgers (
    id              UUID PRIMARY KEY,
    truck_id        TEXT NOT NULL,
    driver_id       TEXT NOT NULL,
    fuel_type       TEXT NOT NULL,
    total_loaded    NUMERIC(12,3) NOT NULL,
    total_remaining NUMERIC(12,3) NOT NULL,
    is_completed    BOOLEAN NOT NULL DEFAULT FALSE,
    version         BIGINT NOT NULL DEFAULT 1,
    created_at      TIMESTAMPTZ NOT NULL,
    completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_fuel_ledgers_driver_open
    ON fuel_ledgers (driver_id) WHERE is_completed = FALSE;

CREATE TABLE IF NOT EXISTS client_allocations (
    id                 UUID PRIMARY KEY,
    ledger_id          UUID NOT NULL REFERENCES fuel_ledgers(id),
    customer_id        TEXT NOT NULL,
    sequence_index     INT NOT NULL,
    allocated_quantity NUMERIC(12,3) NOT NULL,
    delivered_quantity NUMERIC(12,3),
    status             TEXT NOT NULL DEFAULT 'PENDING',
    marker_initial     NUMERIC(12,3),
    marker_final       NUMERIC(12,3),
    completed_at       TIMESTAMPTZ,
    UNIQUE (ledger_id, sequence_index)
);

CREATE TABLE IF NOT EXISTS trips (
    id         UUID PRIMARY KEY,
    ledger_id  UUID NOT NULL REFERENCES fuel_ledgers(id),
    driver_id  TEXT NOT NULL,
    status     TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS evidence_items (
    id            UUID PRIMARY KEY,
    allocation_id UUID NOT NULL REFERENCES client_allocations(id),
    stage         TEXT NOT NULL,
    url           TEXT NOT NULL,
    captured_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_records (
    id         UUID PRIMARY KEY,
    driver_id  TEXT NOT NULL,
    ledger_id  UUID,
    detail     JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS applied_operations (
    idempotency_key UUID PRIMARY KEY,
    result          JSONB NOT NULL,
    applied_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trucks (
    id        TEXT PRIMARY KEY,
    plate     TEXT NOT NULL,
    capacity  NUMERIC(12,3) NOT NULL,
    fuel_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS drivers (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS customers (
    id      TEXT PRIMARY KEY,
    name    TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the engine's tables if they do not exist. The directory
// tables (trucks, drivers, customers) are created too so a fresh install can
// be seeded, but the engine itself only ever reads them.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
