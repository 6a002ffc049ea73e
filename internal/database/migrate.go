package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LatestSchemaVersion is the schema this build reads and writes.
const LatestSchemaVersion = 5

// MigrationError reports a failed schema step. The store is left at the last
// version recorded in schema_history; the application must not proceed.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("schema migration to v%d failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

type migration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{2, migrateV2},
	{3, migrateV3},
	{4, migrateV4},
	{5, migrateV5},
}

// Migrate brings the store to the latest schema version. Each step runs in
// its own transaction and records itself in schema_history; a failure rolls
// the step back whole and stops the chain. A store already at the latest
// version is a no-op; a brand new store is created at the latest version
// directly, skipping the historical chain. Cancellation is honored between
// steps, never inside one.
func (db *DB) Migrate(ctx context.Context, appVersion string) error {
	if _, err := db.conn.ExecContext(ctx, sqlSchemaHistory); err != nil {
		return fmt.Errorf("create schema_history: %w", err)
	}

	var current int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(schema_version), 0) FROM schema_history").Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case current == LatestSchemaVersion:
		db.log.Debug().Int("version", current).Msg("schema up to date")
		return nil
	case current > LatestSchemaVersion:
		return fmt.Errorf("store schema v%d is newer than this build (v%d)", current, LatestSchemaVersion)
	case current == 0:
		return db.createFresh(ctx, appVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration cancelled before v%d: %w", m.version, err)
		}
		if err := db.runStep(ctx, m, appVersion); err != nil {
			return err
		}
		db.log.Info().Int("version", m.version).Msg("schema migrated")
	}
	return nil
}

func (db *DB) runStep(ctx context.Context, m migration, appVersion string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: m.version, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Steps that rebuild tables drop and recreate parents of live foreign
	// keys; enforcement is deferred to commit, by which point the rebuilt
	// schema satisfies every reference again.
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return &MigrationError{Version: m.version, Err: err}
	}
	if err := m.apply(ctx, tx); err != nil {
		return &MigrationError{Version: m.version, Err: err}
	}
	if err := recordVersion(ctx, tx, m.version, appVersion); err != nil {
		return &MigrationError{Version: m.version, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: m.version, Err: err}
	}
	return nil
}

func (db *DB) createFresh(ctx context.Context, appVersion string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: LatestSchemaVersion, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqlLatestSchema); err != nil {
		return &MigrationError{Version: LatestSchemaVersion, Err: err}
	}
	if err := recordVersion(ctx, tx, LatestSchemaVersion, appVersion); err != nil {
		return &MigrationError{Version: LatestSchemaVersion, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: LatestSchemaVersion, Err: err}
	}
	db.log.Info().Int("version", LatestSchemaVersion).Msg("store created")
	return nil
}

func recordVersion(ctx context.Context, tx *sql.Tx, version int, appVersion string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO schema_history (schema_version, applied_date_utc, app_version)
		VALUES (?, ?, ?)
	`, version, time.Now().UTC().Format(time.RFC3339), appVersion)
	return err
}

// --- step v2: assets, configuration, account currency ---

func migrateV2(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, sqlAssets+sqlConfiguration+`
		ALTER TABLE accounts ADD COLUMN kind INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE accounts ADD COLUMN currency_asset_id INTEGER REFERENCES assets(id);
	`); err != nil {
		return err
	}

	// Legacy stores were single-currency; every existing account gets the
	// one default currency asset.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO assets (name, ticker, kind, symbol, decimal_digits)
		VALUES ('US Dollar', 'USD', 0, '$', 2)
	`)
	if err != nil {
		return err
	}
	usd, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE accounts SET currency_asset_id = ?", usd); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO configuration (id, display_asset_id) VALUES (1, ?)", usd)
	return err
}

// --- step v3: categories become zero-ledger accounts ---

func migrateV3(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		"ALTER TABLE transactions ADD COLUMN category_account_id INTEGER REFERENCES accounts(id)"); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY id")
	if err != nil {
		return err
	}
	type category struct {
		id   int64
		name string
	}
	var categories []category
	for rows.Next() {
		var c category
		if err := rows.Scan(&c.id, &c.name); err != nil {
			rows.Close()
			return err
		}
		categories = append(categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range categories {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO accounts (name, is_closed, kind) VALUES (?, 0, 2)", c.name)
		if err != nil {
			return err
		}
		accountID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE transactions SET category_account_id = ? WHERE category_id = ?",
			accountID, c.id); err != nil {
			return err
		}
	}

	// The legacy column cannot be dropped directly (it carries a foreign
	// key); it is nulled out here and disappears with the v4 rebuild.
	if _, err := tx.ExecContext(ctx, "UPDATE transactions SET category_id = NULL"); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DROP TABLE categories")
	return err
}

// --- step v4: credit/debit columns become per-account entries ---

func migrateV4(ctx context.Context, tx *sql.Tx) error {
	type legacyTx struct {
		id              int64
		creditAccountID sql.NullInt64
		debitAccountID  sql.NullInt64
		categoryAccount sql.NullInt64
		amount          string
		status          int64
		fitID           sql.NullString
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, credit_account_id, debit_account_id, category_account_id,
		       amount, status, fit_id
		FROM transactions ORDER BY id
	`)
	if err != nil {
		return err
	}
	var legacy []legacyTx
	for rows.Next() {
		var lt legacyTx
		if err := rows.Scan(&lt.id, &lt.creditAccountID, &lt.debitAccountID,
			&lt.categoryAccount, &lt.amount, &lt.status, &lt.fitID); err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, lt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Rebuild transactions without the flat credit/debit columns before the
	// entries table exists: dropping the old table under foreign_keys=ON is
	// an implicit DELETE, and a cascading child table would lose every row
	// written into it this step. Dates are truncated to the calendar day;
	// time-of-day from legacy imports is deliberately discarded.
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE transactions_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_date TEXT NOT NULL,
			action INTEGER NOT NULL DEFAULT 0,
			check_number INTEGER,
			payee TEXT,
			memo TEXT,
			related_asset_id INTEGER REFERENCES assets(id) ON DELETE SET NULL
		);
		INSERT INTO transactions_new (id, tx_date, action, check_number, payee, memo)
		SELECT id, substr(tx_date, 1, 10),
		       CASE
		           WHEN credit_account_id IS NOT NULL AND debit_account_id IS NOT NULL THEN 2
		           WHEN debit_account_id IS NOT NULL THEN 1
		           ELSE 0
		       END,
		       check_number, payee, memo
		FROM transactions;
		DROP TABLE transactions;
		ALTER TABLE transactions_new RENAME TO transactions;
	`); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, sqlTransactionEntries); err != nil {
		return err
	}

	// Category accounts were created in step v3, after the v2 currency
	// backfill ran; their entries fall back to the configured display asset.
	var defaultAsset sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT display_asset_id FROM configuration WHERE id = 1").Scan(&defaultAsset); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	currencyOf := make(map[int64]int64)
	assetFor := func(accountID int64) (int64, error) {
		if asset, ok := currencyOf[accountID]; ok {
			return asset, nil
		}
		var asset sql.NullInt64
		err := tx.QueryRowContext(ctx,
			"SELECT currency_asset_id FROM accounts WHERE id = ?", accountID).Scan(&asset)
		if err != nil {
			return 0, fmt.Errorf("look up currency of account %d: %w", accountID, err)
		}
		if !asset.Valid {
			if !defaultAsset.Valid {
				return 0, fmt.Errorf("account %d has no currency asset and no display asset is configured", accountID)
			}
			asset.Int64 = defaultAsset.Int64
		}
		currencyOf[accountID] = asset.Int64
		return asset.Int64, nil
	}

	insertEntry := func(txID, accountID int64, amount decimal.Decimal, status int64, fitID sql.NullString) error {
		asset, err := assetFor(accountID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transaction_entries (transaction_id, account_id, asset_id, amount, cleared, ofx_fit_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, txID, accountID, asset, amount.String(), status, fitID)
		return err
	}

	for _, lt := range legacy {
		amount, err := decimal.NewFromString(lt.amount)
		if err != nil {
			return fmt.Errorf("transaction %d has malformed amount %q: %w", lt.id, lt.amount, err)
		}
		switch {
		case lt.creditAccountID.Valid && lt.debitAccountID.Valid:
			// Transfer: equal magnitude, opposite sign; the category leg,
			// if any, is ignored because the transfer already balances.
			if err := insertEntry(lt.id, lt.creditAccountID.Int64, amount, lt.status, lt.fitID); err != nil {
				return err
			}
			if err := insertEntry(lt.id, lt.debitAccountID.Int64, amount.Neg(), lt.status, sql.NullString{}); err != nil {
				return err
			}
		case lt.creditAccountID.Valid:
			if err := insertEntry(lt.id, lt.creditAccountID.Int64, amount, lt.status, lt.fitID); err != nil {
				return err
			}
			if lt.categoryAccount.Valid {
				if err := insertEntry(lt.id, lt.categoryAccount.Int64, amount.Neg(), 0, sql.NullString{}); err != nil {
					return err
				}
			}
		case lt.debitAccountID.Valid:
			if err := insertEntry(lt.id, lt.debitAccountID.Int64, amount.Neg(), lt.status, lt.fitID); err != nil {
				return err
			}
			if lt.categoryAccount.Valid {
				if err := insertEntry(lt.id, lt.categoryAccount.Int64, amount, 0, sql.NullString{}); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("transaction %d has neither credit nor debit account", lt.id)
		}
	}
	return nil
}

// --- step v5: tax lots, prices, views ---

func migrateV5(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, sqlTaxTables+sqlAssetPrices+sqlViews)
	return err
}
