package postgres

import (
	"context"
	"fmt"
)

// schema is applied on startup; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS operators (
    handle       TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS work_sessions (
    id              BIGSERIAL PRIMARY KEY,
    operator_handle TEXT NOT NULL REFERENCES operators(handle),
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ,
    CHECK (ended_at IS NULL OR ended_at >= started_at)
);

CREATE INDEX IF NOT EXISTS idx_work_sessions_operator
    ON work_sessions(operator_handle, started_at);

CREATE TABLE IF NOT EXISTS session_sales (
    id           BIGSERIAL PRIMARY KEY,
    session_id   BIGINT NOT NULL REFERENCES work_sessions(id),
    product_name TEXT NOT NULL,
    category     TEXT NOT NULL,
    sold_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_sales_session
    ON session_sales(session_id);

CREATE TABLE IF NOT EXISTS spillage_records (
    id             BIGSERIAL PRIMARY KEY,
    session_id     BIGINT NOT NULL,
    product_name   TEXT NOT NULL,
    category       TEXT NOT NULL,
    quantity       INTEGER NOT NULL CHECK (quantity > 0),
    spillage_date  DATE NOT NULL,
    reason         TEXT NOT NULL,
    logged_by      TEXT NOT NULL,
    cashier_handle TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_spillage_records_date
    ON spillage_records(spillage_date DESC, id DESC);

CREATE TABLE IF NOT EXISTS inventory_stock (
    subsystem  TEXT NOT NULL CHECK (subsystem IN ('merchandise', 'ingredients', 'materials')),
    item       TEXT NOT NULL,
    qty        INTEGER NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (subsystem, item)
);

CREATE TABLE IF NOT EXISTS product_recipes (
    subsystem    TEXT NOT NULL CHECK (subsystem IN ('ingredients', 'materials')),
    product_name TEXT NOT NULL,
    item         TEXT NOT NULL,
    per_unit     INTEGER NOT NULL CHECK (per_unit > 0),
    PRIMARY KEY (subsystem, product_name, item)
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id             TEXT PRIMARY KEY,
    actor_username TEXT NOT NULL,
    actor_role     TEXT NOT NULL,
    action         TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    entity_id      TEXT NOT NULL,
    detail         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created
    ON audit_logs(created_at DESC);

CREATE TABLE IF NOT EXISTS app_users (
    username   TEXT PRIMARY KEY,
    password   TEXT NOT NULL,
    role       TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
