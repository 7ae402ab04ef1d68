// Package postgres provides PostgreSQL-backed metergate stores.
//
// Balances are debited with a single conditional UPDATE ... RETURNING,
// which makes the store safe for multi-instance deployments sharing one
// database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/metergate"
)

// Store is a PostgreSQL-backed BalanceStore, PriceStore, ConfigStore and UsageLog.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ metergate.BalanceStore = (*Store)(nil)
	_ metergate.PriceStore   = (*Store)(nil)
	_ metergate.ConfigStore  = (*Store)(nil)
	_ metergate.UsageLog     = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "metergate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "metergate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("metergate/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metergate/postgres: ping: %w", err)
	}
	return pool, nil
}

func (s *Store) usersTable() string  { return s.tablePrefix + "users" }
func (s *Store) pricesTable() string { return s.tablePrefix + "model_prices" }
func (s *Store) configTable() string { return s.tablePrefix + "config" }
func (s *Store) usageTable() string  { return s.tablePrefix + "usage_history" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			tokens BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			model_name TEXT PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			input_price DOUBLE PRECISION NOT NULL,
			output_price DOUBLE PRECISION NOT NULL,
			profit_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.6,
			active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS %[4]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			requested_model TEXT NOT NULL,
			used_model TEXT NOT NULL,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL,
			charged_units BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`, s.usersTable(), s.pricesTable(), s.configTable(), s.usageTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("metergate/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var tokens int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT tokens FROM %s WHERE id = $1`, s.usersTable()),
		userID,
	).Scan(&tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, metergate.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("metergate/postgres: balance: %w", err)
	}
	return tokens, nil
}

func (s *Store) DebitIfSufficient(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	var tokens int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET tokens = tokens - $1
			WHERE id = $2 AND tokens >= $1
			RETURNING tokens`, s.usersTable()),
		amount, userID,
	).Scan(&tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("metergate/postgres: debit: %w", err)
	}
	return tokens, true, nil
}

// Credit adds amount, creating the user if needed. A negative legacy
// balance is reset to 0 before the increment.
func (s *Store) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	var tokens int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (id, tokens) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET tokens = GREATEST(%[1]s.tokens, 0) + EXCLUDED.tokens
			RETURNING tokens`, s.usersTable()),
		userID, amount,
	).Scan(&tokens)
	if err != nil {
		return 0, fmt.Errorf("metergate/postgres: credit: %w", err)
	}
	return tokens, nil
}

// UpsertPrice inserts or replaces a price row.
func (s *Store) UpsertPrice(ctx context.Context, row metergate.PriceRow) error {
	mult := row.ProfitMultiplier
	if mult == 0 {
		mult = 1.6
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (model_name, provider, input_price, output_price, profit_multiplier, active, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (model_name) DO UPDATE SET
				provider = EXCLUDED.provider,
				input_price = EXCLUDED.input_price,
				output_price = EXCLUDED.output_price,
				profit_multiplier = EXCLUDED.profit_multiplier,
				active = EXCLUDED.active,
				updated_at = now()`, s.pricesTable()),
		row.Model, string(row.Provider), row.Input, row.Output, mult, row.Active,
	)
	if err != nil {
		return fmt.Errorf("metergate/postgres: upsert price: %w", err)
	}
	return nil
}

func (s *Store) ModelPrice(ctx context.Context, model string) (metergate.Price, bool, error) {
	var p metergate.Price
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT input_price, output_price FROM %s WHERE model_name = $1 AND active`, s.pricesTable()),
		model,
	).Scan(&p.Input, &p.Output)
	if errors.Is(err, pgx.ErrNoRows) {
		return metergate.Price{}, false, nil
	}
	if err != nil {
		return metergate.Price{}, false, fmt.Errorf("metergate/postgres: model price: %w", err)
	}
	return p, true, nil
}

func (s *Store) ConfigValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.configTable()),
		key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("metergate/postgres: config value: %w", err)
	}
	return v, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.configTable()),
		key, value,
	)
	if err != nil {
		return fmt.Errorf("metergate/postgres: set config value: %w", err)
	}
	return nil
}

func (s *Store) RecordUsage(ctx context.Context, rec metergate.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (
				id, user_id, requested_model, used_model,
				input_tokens, output_tokens, cost_usd, charged_units, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`, s.usageTable()),
		rec.ID, rec.UserID, rec.RequestedModel, rec.UsedModel,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.ChargedUnits, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("metergate/postgres: record usage: %w", err)
	}
	return nil
}

// PruneUsage deletes usage records older than the retention period.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.usageTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("metergate/postgres: prune usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
