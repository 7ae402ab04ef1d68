// Package sqlite provides a SQLite-backed implementation of the metergate
// stores using the pure-Go modernc.org/sqlite driver.
//
// The balance debit is a single conditional UPDATE ... RETURNING, so the
// non-negative balance invariant holds for every connection sharing the
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ineyio/metergate"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    tokens     INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS model_prices (
    model_name        TEXT PRIMARY KEY,
    provider          TEXT NOT NULL DEFAULT '',
    input_price       REAL NOT NULL,
    output_price      REAL NOT NULL,
    profit_multiplier REAL NOT NULL DEFAULT 1.6,
    active            INTEGER NOT NULL DEFAULT 1,
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS app_config (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS usage_history (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    requested_model TEXT NOT NULL,
    used_model      TEXT NOT NULL,
    input_tokens    INTEGER NOT NULL,
    output_tokens   INTEGER NOT NULL,
    cost_usd        REAL NOT NULL,
    charged_units   INTEGER NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_history_user ON usage_history(user_id, created_at);
`

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed BalanceStore, PriceStore, ConfigStore and UsageLog.
type Store struct {
	db *sql.DB
}

var (
	_ metergate.BalanceStore = (*Store)(nil)
	_ metergate.PriceStore   = (*Store)(nil)
	_ metergate.ConfigStore  = (*Store)(nil)
	_ metergate.UsageLog     = (*Store)(nil)
)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metergate/sqlite: open: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metergate/sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metergate/sqlite: busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metergate/sqlite: run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx, `SELECT tokens FROM users WHERE id = ?`, userID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, metergate.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("metergate/sqlite: balance: %w", err)
	}
	return tokens, nil
}

func (s *Store) DebitIfSufficient(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET tokens = tokens - ? WHERE id = ? AND tokens >= ? RETURNING tokens`,
		amount, userID, amount,
	).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("metergate/sqlite: debit: %w", err)
	}
	return tokens, true, nil
}

// Credit adds amount, creating the user if needed. A negative legacy
// balance is reset to 0 before the increment.
func (s *Store) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, tokens) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET tokens = MAX(tokens, 0) + excluded.tokens
		 RETURNING tokens`,
		userID, amount,
	).Scan(&tokens)
	if err != nil {
		return 0, fmt.Errorf("metergate/sqlite: credit: %w", err)
	}
	return tokens, nil
}

// UpsertPrice inserts or replaces a price row.
func (s *Store) UpsertPrice(ctx context.Context, row metergate.PriceRow) error {
	mult := row.ProfitMultiplier
	if mult == 0 {
		mult = 1.6
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_prices (model_name, provider, input_price, output_price, profit_multiplier, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_name) DO UPDATE SET
		     provider = excluded.provider,
		     input_price = excluded.input_price,
		     output_price = excluded.output_price,
		     profit_multiplier = excluded.profit_multiplier,
		     active = excluded.active,
		     updated_at = excluded.updated_at`,
		row.Model, string(row.Provider), row.Input, row.Output, mult, row.Active,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("metergate/sqlite: upsert price: %w", err)
	}
	return nil
}

func (s *Store) ModelPrice(ctx context.Context, model string) (metergate.Price, bool, error) {
	var p metergate.Price
	err := s.db.QueryRowContext(ctx,
		`SELECT input_price, output_price FROM model_prices WHERE model_name = ? AND active = 1`,
		model,
	).Scan(&p.Input, &p.Output)
	if errors.Is(err, sql.ErrNoRows) {
		return metergate.Price{}, false, nil
	}
	if err != nil {
		return metergate.Price{}, false, fmt.Errorf("metergate/sqlite: model price: %w", err)
	}
	return p, true, nil
}

func (s *Store) ConfigValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("metergate/sqlite: config value: %w", err)
	}
	return v, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("metergate/sqlite: set config value: %w", err)
	}
	return nil
}

func (s *Store) RecordUsage(ctx context.Context, rec metergate.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_history (
		     id, user_id, requested_model, used_model,
		     input_tokens, output_tokens, cost_usd, charged_units, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.RequestedModel, rec.UsedModel,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.ChargedUnits,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("metergate/sqlite: record usage: %w", err)
	}
	return nil
}

// UsageSince returns a user's records created at or after since, oldest first.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) ([]metergate.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, requested_model, used_model, input_tokens, output_tokens,
		        cost_usd, charged_units, created_at
		 FROM usage_history WHERE user_id = ? AND created_at >= ?
		 ORDER BY created_at`,
		userID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("metergate/sqlite: usage since: %w", err)
	}
	defer rows.Close()

	var out []metergate.UsageRecord
	for rows.Next() {
		var (
			rec     metergate.UsageRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RequestedModel, &rec.UsedModel,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.ChargedUnits, &created); err != nil {
			return nil, fmt.Errorf("metergate/sqlite: scan usage: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
