package store

const schema = `
CREATE TABLE IF NOT EXISTS sync_operations (
    id             TEXT PRIMARY KEY,
    driver_id      TEXT NOT NULL,
    kind           TEXT NOT NULL,
    payload        BLOB NOT NULL,
    created_at     TEXT NOT NULL,
    attempts       INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'PENDING',
    failure_reason TEXT NOT NULL DEFAULT '',
    resolved_at    TEXT
);

CREATE TABLE IF NOT EXISTS staged_evidence (
    id            TEXT PRIMARY KEY,
    allocation_id TEXT NOT NULL,
    stage         TEXT NOT NULL,
    uri           TEXT NOT NULL,
    captured_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trip_state (
    driver_id  TEXT PRIMARY KEY,
    trip_id    TEXT NOT NULL,
    ledger_id  TEXT NOT NULL,
    started_at TEXT NOT NULL,
    queue      TEXT NOT NULL DEFAULT '[]'
);
`
