package database

// DDL fragments shared by the migration chain and the fresh-store path.
// Column order must match the descriptors in internal/ledger.

const sqlSchemaHistory = `
CREATE TABLE IF NOT EXISTS schema_history (
	schema_version INTEGER PRIMARY KEY,
	applied_date_utc TEXT NOT NULL,
	app_version TEXT NOT NULL
);`

const sqlAssets = `
CREATE TABLE assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	ticker TEXT,
	kind INTEGER NOT NULL DEFAULT 0,
	symbol TEXT,
	decimal_digits INTEGER
);`

const sqlConfiguration = `
CREATE TABLE configuration (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	display_asset_id INTEGER REFERENCES assets(id),
	commission_account_id INTEGER REFERENCES accounts(id)
);`

const sqlTransactionEntries = `
CREATE TABLE transaction_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	amount TEXT NOT NULL,
	cleared INTEGER NOT NULL DEFAULT 0,
	memo TEXT,
	ofx_fit_id TEXT
);
CREATE INDEX idx_entries_account ON transaction_entries (account_id);
CREATE INDEX idx_entries_transaction ON transaction_entries (transaction_id);
CREATE UNIQUE INDEX idx_entries_account_fit
	ON transaction_entries (account_id, ofx_fit_id)
	WHERE ofx_fit_id IS NOT NULL;`

const sqlTaxTables = `
CREATE TABLE tax_lots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	creating_entry_id INTEGER NOT NULL REFERENCES transaction_entries(id) ON DELETE CASCADE,
	acquired_date TEXT,
	amount TEXT,
	cost_basis_amount TEXT,
	cost_basis_asset_id INTEGER REFERENCES assets(id)
);
CREATE INDEX idx_lots_entry ON tax_lots (creating_entry_id);
CREATE TABLE tax_lot_assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tax_lot_id INTEGER NOT NULL REFERENCES tax_lots(id) ON DELETE CASCADE,
	consuming_entry_id INTEGER NOT NULL REFERENCES transaction_entries(id) ON DELETE CASCADE,
	amount TEXT NOT NULL,
	pinned INTEGER NOT NULL DEFAULT 0,
	UNIQUE (tax_lot_id, consuming_entry_id)
);`

const sqlAssetPrices = `
CREATE TABLE asset_prices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asset_id INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	reference_asset_id INTEGER NOT NULL REFERENCES assets(id),
	price_date TEXT NOT NULL,
	price TEXT NOT NULL,
	UNIQUE (asset_id, reference_asset_id, price_date)
);`

const sqlViews = `
CREATE VIEW transaction_and_entry AS
	SELECT e.account_id, t.id AS transaction_id, e.id AS entry_id,
	       t.tx_date, t.action, t.payee, t.memo AS transaction_memo,
	       e.asset_id, e.amount, e.cleared, e.memo AS entry_memo, e.ofx_fit_id
	FROM transactions t
	JOIN transaction_entries e ON e.transaction_id = t.id
	ORDER BY e.account_id, t.id, e.id;
CREATE VIEW unsold_assets AS
	SELECT lot.id AS tax_lot_id, e.account_id, e.asset_id,
	       COALESCE(lot.acquired_date, t.tx_date) AS acquired_date,
	       COALESCE(CAST(lot.amount AS NUMERIC), CAST(e.amount AS NUMERIC))
	           - COALESCE((SELECT SUM(CAST(a.amount AS NUMERIC))
	                       FROM tax_lot_assignments a
	                       WHERE a.tax_lot_id = lot.id), 0) AS remaining_amount
	FROM tax_lots lot
	JOIN transaction_entries e ON e.id = lot.creating_entry_id
	JOIN transactions t ON t.id = e.transaction_id;
CREATE VIEW consumed_tax_lots AS
	SELECT a.id AS assignment_id, a.tax_lot_id, a.consuming_entry_id,
	       CAST(a.amount AS NUMERIC) AS amount, a.pinned,
	       COALESCE(lot.acquired_date, t.tx_date) AS acquired_date,
	       dt.tx_date AS disposed_date
	FROM tax_lot_assignments a
	JOIN tax_lots lot ON lot.id = a.tax_lot_id
	JOIN transaction_entries e ON e.id = lot.creating_entry_id
	JOIN transactions t ON t.id = e.transaction_id
	JOIN transaction_entries de ON de.id = a.consuming_entry_id
	JOIN transactions dt ON dt.id = de.transaction_id;`

// sqlLatestSchema is the full current schema, applied in one step when a
// store file is created from scratch.
const sqlLatestSchema = sqlAssets + `
CREATE TABLE accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	is_closed INTEGER NOT NULL DEFAULT 0,
	kind INTEGER NOT NULL DEFAULT 0,
	currency_asset_id INTEGER REFERENCES assets(id) ON DELETE SET NULL
);
CREATE TABLE transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_date TEXT NOT NULL,
	action INTEGER NOT NULL DEFAULT 0,
	check_number INTEGER,
	payee TEXT,
	memo TEXT,
	related_asset_id INTEGER REFERENCES assets(id) ON DELETE SET NULL
);` + sqlConfiguration + sqlTransactionEntries + sqlTaxTables + sqlAssetPrices + sqlViews

// sqlLegacyV1 is the original flat schema: credit/debit transactions and a
// separate category table. Kept for upgrade tests; real v1 stores in the
// wild still open through the migration chain.
const sqlLegacyV1 = `
CREATE TABLE accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	is_closed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_date TEXT NOT NULL,
	credit_account_id INTEGER REFERENCES accounts(id),
	debit_account_id INTEGER REFERENCES accounts(id),
	category_id INTEGER REFERENCES categories(id),
	amount TEXT NOT NULL,
	payee TEXT,
	memo TEXT,
	check_number INTEGER,
	status INTEGER NOT NULL DEFAULT 0,
	fit_id TEXT
);`
