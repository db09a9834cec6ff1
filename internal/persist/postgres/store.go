package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/shopify-store-mcp/internal/persist"
)

// Compile-time interface check.
var _ persist.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [persist.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, verifies it with
// a ping and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveOperation implements [persist.Store].
func (s *Store) SaveOperation(ctx context.Context, op persist.Operation) error {
	id, err := operationID(op.ID)
	if err != nil {
		return err
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO operation_log
		    (id, store_domain, session_id, tool_name, operation_type, query,
		     variables, response, success, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, q,
		id, op.StoreDomain, op.SessionID, op.ToolName, op.OperationType, op.Query,
		op.Variables, op.Response, op.Success, op.ErrorMessage, op.DurationMs, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save operation: %w", err)
	}
	return nil
}

// History implements [persist.Store].
func (s *Store) History(ctx context.Context, f persist.HistoryFilter) ([]persist.Operation, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.StoreDomain != "" {
		conditions = append(conditions, "store_domain = "+next(f.StoreDomain))
	}
	if f.ToolName != "" {
		conditions = append(conditions, "tool_name = "+next(f.ToolName))
	}
	if f.OperationType != "" {
		conditions = append(conditions, "operation_type = "+next(f.OperationType))
	}
	if f.Success != nil {
		conditions = append(conditions, "success = "+next(*f.Success))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.Since))
	}

	q := "SELECT id::text, store_domain, session_id, tool_name, operation_type, query,\n" +
		"       variables, response, success, error_message, duration_ms, created_at\n" +
		"FROM   operation_log\n"
	if len(conditions) > 0 {
		q += "WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n"
	}
	q += "ORDER  BY created_at DESC\nLIMIT  " + next(f.EffectiveLimit())

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: history: %w", err)
	}
	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (persist.Operation, error) {
		var op persist.Operation
		err := row.Scan(
			&op.ID, &op.StoreDomain, &op.SessionID, &op.ToolName, &op.OperationType, &op.Query,
			&op.Variables, &op.Response, &op.Success, &op.ErrorMessage, &op.DurationMs, &op.CreatedAt,
		)
		op.CreatedAt = op.CreatedAt.UTC()
		return op, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan history: %w", err)
	}
	return ops, nil
}

// Stats implements [persist.Store].
func (s *Store) Stats(ctx context.Context, storeDomain string, since time.Time) (persist.Stats, error) {
	const q = `
		SELECT tool_name, success, duration_ms
		FROM   operation_log
		WHERE  store_domain = $1
		  AND  created_at  >= $2`

	rows, err := s.pool.Query(ctx, q, storeDomain, since)
	if err != nil {
		return persist.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	defer rows.Close()

	var b persist.StatsBuilder
	for rows.Next() {
		var (
			tool     string
			success  bool
			duration int64
		)
		if err := rows.Scan(&tool, &success, &duration); err != nil {
			return persist.Stats{}, fmt.Errorf("postgres store: scan stats: %w", err)
		}
		b.Add(tool, success, duration)
	}
	if err := rows.Err(); err != nil {
		return persist.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	return b.Stats(), nil
}

// PurgeBefore implements [persist.Store].
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM operation_log WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LoadStoreConfig implements [persist.Store].
func (s *Store) LoadStoreConfig(ctx context.Context, storeDomain string) (persist.StoreConfig, bool, error) {
	const q = `
		SELECT store_domain, tier, auto_detected, shop_name, shop_plan, created_at, updated_at
		FROM   store_config
		WHERE  store_domain = $1`

	var cfg persist.StoreConfig
	err := s.pool.QueryRow(ctx, q, storeDomain).Scan(
		&cfg.StoreDomain, &cfg.Tier, &cfg.AutoDetected, &cfg.ShopName, &cfg.ShopPlan, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return persist.StoreConfig{}, false, nil
	}
	if err != nil {
		return persist.StoreConfig{}, false, fmt.Errorf("postgres store: load config: %w", err)
	}
	return cfg, true, nil
}

// SaveStoreConfig implements [persist.Store].
func (s *Store) SaveStoreConfig(ctx context.Context, cfg persist.StoreConfig) error {
	const q = `
		INSERT INTO store_config
		    (store_domain, tier, auto_detected, shop_name, shop_plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (store_domain) DO UPDATE SET
		    tier          = EXCLUDED.tier,
		    auto_detected = EXCLUDED.auto_detected,
		    shop_name     = EXCLUDED.shop_name,
		    shop_plan     = EXCLUDED.shop_plan,
		    updated_at    = now()`

	_, err := s.pool.Exec(ctx, q, cfg.StoreDomain, cfg.Tier, cfg.AutoDetected, cfg.ShopName, cfg.ShopPlan)
	if err != nil {
		return fmt.Errorf("postgres store: save config: %w", err)
	}
	return nil
}

// Ping implements [persist.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// operationID parses id as a UUID, generating a fresh one when id is empty.
func operationID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("postgres store: invalid operation id %q: %w", id, err)
	}
	return u, nil
}
