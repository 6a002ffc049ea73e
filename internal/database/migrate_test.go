package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta-app/moneta/internal/ledger"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func historyVersions(t *testing.T, db *DB) []int {
	t.Helper()
	rows, err := db.conn.Query("SELECT schema_version FROM schema_history ORDER BY schema_version")
	require.NoError(t, err)
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	return versions
}

func TestMigrateFreshStore(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, "test"))

	// A brand new store skips the historical chain entirely.
	assert.Equal(t, []int{LatestSchemaVersion}, historyVersions(t, db))

	store := ledger.NewStore(db.Conn(), zerolog.Nop())
	usd := &ledger.Asset{Name: "US Dollar"}
	require.NoError(t, store.InsertAsset(ctx, usd))
	require.NoError(t, store.InsertAccount(ctx, &ledger.Account{
		Name: "Checking", Kind: ledger.AccountBanking, CurrencyAssetID: &usd.ID,
	}))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, "test"))
	require.NoError(t, db.Migrate(ctx, "test"))
	assert.Equal(t, []int{LatestSchemaVersion}, historyVersions(t, db))
}

func TestMigrateRejectsNewerStore(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	_, err := db.conn.ExecContext(ctx, sqlSchemaHistory)
	require.NoError(t, err)
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO schema_history (schema_version, applied_date_utc, app_version) VALUES (?, ?, ?)",
		LatestSchemaVersion+1, time.Now().UTC().Format(time.RFC3339), "future")
	require.NoError(t, err)

	assert.Error(t, db.Migrate(ctx, "test"))
}

// seedLegacyV1 builds a version 1 store: flat credit/debit transactions, a
// separate category table, timestamps in the date column.
func seedLegacyV1(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	exec := func(query string, args ...any) {
		t.Helper()
		_, err := db.conn.ExecContext(ctx, query, args...)
		require.NoError(t, err)
	}

	exec(sqlLegacyV1)
	exec(sqlSchemaHistory)
	exec("INSERT INTO schema_history (schema_version, applied_date_utc, app_version) VALUES (1, ?, 'legacy')",
		time.Now().UTC().Format(time.RFC3339))

	exec("INSERT INTO accounts (name) VALUES ('Checking'), ('Savings')")
	exec("INSERT INTO categories (name) VALUES ('Salary'), ('Groceries')")

	// Paycheck into Checking, stamped with a time-of-day by the bank export.
	exec(`INSERT INTO transactions (tx_date, credit_account_id, category_id, amount, payee, status, fit_id)
	      VALUES ('2015-12-31T10:00:00', 1, 1, '400.00', 'Employer Inc', 1, 'FIT-1')`)
	// Transfer from Checking into Savings.
	exec(`INSERT INTO transactions (tx_date, credit_account_id, debit_account_id, amount)
	      VALUES ('2016-01-05', 2, 1, '100.00')`)
	// Grocery run out of Checking.
	exec(`INSERT INTO transactions (tx_date, debit_account_id, category_id, amount, payee)
	      VALUES ('2016-01-10', 1, 2, '23.45', 'Corner Market')`)
}

func TestMigrateLegacyStore(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	seedLegacyV1(t, db)

	require.NoError(t, db.Migrate(ctx, "test"))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, historyVersions(t, db))

	store := ledger.NewStore(db.Conn(), zerolog.Nop())

	// Categories became zero-ledger accounts; the real accounts survive.
	accounts, err := store.Accounts(ctx, "")
	require.NoError(t, err)
	require.Len(t, accounts, 4)
	byName := make(map[string]ledger.Account)
	for _, a := range accounts {
		byName[a.Name] = a
	}
	assert.Equal(t, ledger.AccountBanking, byName["Checking"].Kind)
	assert.Equal(t, ledger.AccountCategory, byName["Salary"].Kind)
	assert.Equal(t, ledger.AccountCategory, byName["Groceries"].Kind)
	require.NotNil(t, byName["Checking"].CurrencyAssetID)

	// Balances match the legacy arithmetic exactly.
	usdID := *byName["Checking"].CurrencyAssetID
	balances, err := store.AccountBalances(ctx, byName["Checking"].ID, ledger.NullDate{})
	require.NoError(t, err)
	assert.True(t, balances[usdID].Equal(decimal.RequireFromString("276.55")), "got %s", balances[usdID])
	balances, err = store.AccountBalances(ctx, byName["Savings"].ID, ledger.NullDate{})
	require.NoError(t, err)
	assert.True(t, balances[usdID].Equal(decimal.RequireFromString("100.00")), "got %s", balances[usdID])

	// Every transaction's entries cancel out, and category legs picked up
	// the default currency even though categories predate the asset table.
	transactions, err := store.Transactions(ctx, "")
	require.NoError(t, err)
	require.Len(t, transactions, 3)
	for _, tx := range transactions {
		entries, err := store.Entries(ctx, "transaction_id = ?", tx.ID)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		sum := decimal.Zero
		for _, e := range entries {
			assert.Equal(t, usdID, e.AssetID)
			sum = sum.Add(e.Amount)
		}
		assert.True(t, sum.IsZero(), "transaction %d sums to %s", tx.ID, sum)
	}

	salaryBalances, err := store.AccountBalances(ctx, byName["Salary"].ID, ledger.NullDate{})
	require.NoError(t, err)
	assert.True(t, salaryBalances[usdID].Equal(decimal.RequireFromString("-400.00")), "got %s", salaryBalances[usdID])

	// The paycheck's timestamp collapsed to its calendar day.
	paycheck, err := store.GetTransaction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewDate(2015, time.December, 31), paycheck.When)
	assert.Equal(t, ledger.ActionDeposit, paycheck.Action)

	transfer, err := store.GetTransaction(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionTransfer, transfer.Action)

	grocery, err := store.GetTransaction(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionWithdraw, grocery.Action)

	// The bank's fit id lands on the real-account leg.
	entries, err := store.Entries(ctx, "ofx_fit_id = ?", "FIT-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, byName["Checking"].ID, entries[0].AccountID)
	assert.Equal(t, ledger.Cleared, entries[0].Cleared)

	// A second run finds nothing to do.
	require.NoError(t, db.Migrate(ctx, "test"))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, historyVersions(t, db))
}

func TestBackupTo(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, "test"))

	store := ledger.NewStore(db.Conn(), zerolog.Nop())
	usd := &ledger.Asset{Name: "US Dollar"}
	require.NoError(t, store.InsertAsset(ctx, usd))

	dest := filepath.Join(t.TempDir(), "backups", "snapshot.db")
	require.NoError(t, db.BackupTo(ctx, dest))

	copyDB, err := Open(dest, zerolog.Nop())
	require.NoError(t, err)
	defer copyDB.Close()

	copyStore := ledger.NewStore(copyDB.Conn(), zerolog.Nop())
	assets, err := copyStore.Assets(ctx, "")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "US Dollar", assets[0].Name)
}
