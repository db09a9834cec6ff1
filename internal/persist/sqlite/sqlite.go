// Package sqlite provides the default local [persist.Store], a single SQLite
// database file opened through the pure-Go modernc.org/sqlite driver.
//
// Usage:
//
//	store, err := sqlite.Open(ctx, "~/.shopify-mcp/mcp.db")
//	if err != nil { … }
//	defer store.Close()
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
)

var _ persist.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS store_config (
    store_domain  TEXT    PRIMARY KEY,
    tier          TEXT    NOT NULL DEFAULT 'STANDARD',
    auto_detected INTEGER NOT NULL DEFAULT 0,
    shop_name     TEXT    NOT NULL DEFAULT '',
    shop_plan     TEXT    NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_log (
    id             TEXT    PRIMARY KEY,
    store_domain   TEXT    NOT NULL,
    session_id     TEXT    NOT NULL,
    tool_name      TEXT    NOT NULL,
    operation_type TEXT    NOT NULL,
    query          TEXT    NOT NULL,
    variables      TEXT    NOT NULL DEFAULT '',
    response       TEXT    NOT NULL DEFAULT '',
    success        INTEGER NOT NULL,
    error_message  TEXT    NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL,
    created_at     INTEGER NOT NULL
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

// Store is a SQLite-backed [persist.Store]. Timestamps are stored as Unix
// nanoseconds so range filters compare integers.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database file at path, creating parent
// directories as needed, and migrates the schema. A leading "~/" is expanded
// to the user's home directory.
func Open(ctx context.Context, path string) (*Store, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One connection serialises writers and keeps per-connection pragmas.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("sqlite store: pragma: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return nil
}

// SaveOperation implements [persist.Store].
func (s *Store) SaveOperation(ctx context.Context, op persist.Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO operation_log
		    (id, store_domain, session_id, tool_name, operation_type, query,
		     variables, response, success, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		op.ID, op.StoreDomain, op.SessionID, op.ToolName, op.OperationType, op.Query,
		op.Variables, op.Response, op.Success, op.ErrorMessage, op.DurationMs, op.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save operation: %w", err)
	}
	return nil
}

// History implements [persist.Store].
func (s *Store) History(ctx context.Context, f persist.HistoryFilter) ([]persist.Operation, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.StoreDomain != "" {
		add("store_domain = ?", f.StoreDomain)
	}
	if f.ToolName != "" {
		add("tool_name = ?", f.ToolName)
	}
	if f.OperationType != "" {
		add("operation_type = ?", f.OperationType)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UnixNano())
	}

	q := "SELECT id, store_domain, session_id, tool_name, operation_type, query,\n" +
		"       variables, response, success, error_message, duration_ms, created_at\n" +
		"FROM   operation_log\n"
	if len(conds) > 0 {
		q += "WHERE  " + strings.Join(conds, "\n  AND  ") + "\n"
	}
	q += "ORDER  BY created_at DESC\nLIMIT  ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []persist.Operation
	for rows.Next() {
		var (
			op      persist.Operation
			created int64
		)
		if err := rows.Scan(
			&op.ID, &op.StoreDomain, &op.SessionID, &op.ToolName, &op.OperationType, &op.Query,
			&op.Variables, &op.Response, &op.Success, &op.ErrorMessage, &op.DurationMs, &created,
		); err != nil {
			return nil, fmt.Errorf("sqlite store: scan operation: %w", err)
		}
		op.CreatedAt = time.Unix(0, created).UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: history: %w", err)
	}
	return ops, nil
}

// Stats implements [persist.Store].
func (s *Store) Stats(ctx context.Context, storeDomain string, since time.Time) (persist.Stats, error) {
	const q = `
		SELECT tool_name, success, duration_ms
		FROM   operation_log
		WHERE  store_domain = ?
		  AND  created_at  >= ?`
	rows, err := s.db.QueryContext(ctx, q, storeDomain, since.UnixNano())
	if err != nil {
		return persist.Stats{}, fmt.Errorf("sqlite store: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var b persist.StatsBuilder
	for rows.Next() {
		var (
			tool     string
			success  bool
			duration int64
		)
		if err := rows.Scan(&tool, &success, &duration); err != nil {
			return persist.Stats{}, fmt.Errorf("sqlite store: scan stats: %w", err)
		}
		b.Add(tool, success, duration)
	}
	if err := rows.Err(); err != nil {
		return persist.Stats{}, fmt.Errorf("sqlite store: stats: %w", err)
	}
	return b.Stats(), nil
}

// PurgeBefore implements [persist.Store].
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM operation_log WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite store: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: purge: %w", err)
	}
	return n, nil
}

// LoadStoreConfig implements [persist.Store].
func (s *Store) LoadStoreConfig(ctx context.Context, storeDomain string) (persist.StoreConfig, bool, error) {
	const q = `
		SELECT store_domain, tier, auto_detected, shop_name, shop_plan, created_at, updated_at
		FROM   store_config
		WHERE  store_domain = ?`
	var (
		cfg              persist.StoreConfig
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, q, storeDomain).Scan(
		&cfg.StoreDomain, &cfg.Tier, &cfg.AutoDetected, &cfg.ShopName, &cfg.ShopPlan, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.StoreConfig{}, false, nil
	}
	if err != nil {
		return persist.StoreConfig{}, false, fmt.Errorf("sqlite store: load config: %w", err)
	}
	cfg.CreatedAt = time.Unix(0, created).UTC()
	cfg.UpdatedAt = time.Unix(0, updated).UTC()
	return cfg, true, nil
}

// SaveStoreConfig implements [persist.Store].
func (s *Store) SaveStoreConfig(ctx context.Context, cfg persist.StoreConfig) error {
	now := time.Now().UnixNano()
	const q = `
		INSERT INTO store_config
		    (store_domain, tier, auto_detected, shop_name, shop_plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_domain) DO UPDATE SET
		    tier          = excluded.tier,
		    auto_detected = excluded.auto_detected,
		    shop_name     = excluded.shop_name,
		    shop_plan     = excluded.shop_plan,
		    updated_at    = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		cfg.StoreDomain, cfg.Tier, cfg.AutoDetected, cfg.ShopName, cfg.ShopPlan, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save config: %w", err)
	}
	return nil
}

// Ping implements [persist.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [persist.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sqlite store: resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
