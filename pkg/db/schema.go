package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS stack_orders (
    stack TEXT NOT NULL,
    order_id INTEGER NOT NULL,
    order_key TEXT NOT NULL,
    parent_id INTEGER NOT NULL DEFAULT 0,
    locked INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    version INTEGER NOT NULL DEFAULT 1,
    body TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (stack, order_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stack_orders_active_key
    ON stack_orders(stack, order_key) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_stack_orders_parent ON stack_orders(stack, parent_id);

CREATE TABLE IF NOT EXISTS order_id_counters (
    stack TEXT PRIMARY KEY,
    last_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS historic_orders (
    tier TEXT NOT NULL,
    order_id INTEGER NOT NULL,
    order_key TEXT NOT NULL,
    strategy TEXT NOT NULL,
    instrument TEXT NOT NULL,
    contract TEXT NOT NULL DEFAULT '',
    parent_id INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    completed_at DATETIME NOT NULL,
    PRIMARY KEY (tier, order_id)
);

CREATE INDEX IF NOT EXISTS idx_historic_scope ON historic_orders(tier, strategy, instrument);
CREATE INDEX IF NOT EXISTS idx_historic_contract ON historic_orders(tier, strategy, instrument, contract);

CREATE TABLE IF NOT EXISTS order_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    tier TEXT NOT NULL DEFAULT '',
    order_id INTEGER NOT NULL DEFAULT 0,
    parent_id INTEGER NOT NULL DEFAULT 0,
    order_key TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(tier, order_id);

CREATE TABLE IF NOT EXISTS client_ids (
    client_id INTEGER PRIMARY KEY,
    owner TEXT NOT NULL,
    locked_at DATETIME NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
