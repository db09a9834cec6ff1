// Package postgres provides a PostgreSQL-backed [persist.Store] for
// deployments that share one operation log between several server
// instances.
//
// All operations go through a single [pgxpool.Pool]. [Migrate] creates the
// tables on first use.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Store configuration
// ─────────────────────────────────────────────────────────────────────────────

const ddlStoreConfig = `
CREATE TABLE IF NOT EXISTS store_config (
    store_domain  TEXT         PRIMARY KEY,
    tier          TEXT         NOT NULL DEFAULT 'STANDARD',
    auto_detected BOOLEAN      NOT NULL DEFAULT false,
    shop_name     TEXT         NOT NULL DEFAULT '',
    shop_plan     TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Operation log
// ─────────────────────────────────────────────────────────────────────────────

const ddlOperationLog = `
CREATE TABLE IF NOT EXISTS operation_log (
    id             UUID         PRIMARY KEY,
    store_domain   TEXT         NOT NULL,
    session_id     TEXT         NOT NULL,
    tool_name      TEXT         NOT NULL,
    operation_type TEXT         NOT NULL,
    query          TEXT         NOT NULL,
    variables      TEXT         NOT NULL DEFAULT '',
    response       TEXT         NOT NULL DEFAULT '',
    success        BOOLEAN      NOT NULL,
    error_message  TEXT         NOT NULL DEFAULT '',
    duration_ms    BIGINT       NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_operation_log_store_created
    ON operation_log (store_domain, created_at);

CREATE INDEX IF NOT EXISTS idx_operation_log_tool
    ON operation_log (tool_name);

CREATE INDEX IF NOT EXISTS idx_operation_log_session
    ON operation_log (session_id);

CREATE INDEX IF NOT EXISTS idx_operation_log_created
    ON operation_log (created_at);
`

// Migrate creates all tables and indexes. It is idempotent and safe to call
// on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlStoreConfig, ddlOperationLog} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
