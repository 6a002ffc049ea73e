package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store is the entity store over an open ledger database. Methods run as
// single statements against the connection; use WithTx to group related
// mutations into one atomic unit.
type Store struct {
	ops
	db *sql.DB
}

// NewStore creates a store over an open database connection.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		ops: ops{q: db, log: log.With().Str("component", "store").Logger()},
		db:  db,
	}
}

// Tx exposes the same operations as Store inside one database transaction.
type Tx struct {
	ops
}

// WithTx runs fn inside a transaction. If fn returns an error, or the commit
// fails, every change made through the Tx is rolled back and the error is
// returned to the caller.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	tx := &Tx{ops: ops{q: dbtx, log: s.log}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ops carries the shared implementation behind Store and Tx.
type ops struct {
	q   Querier
	log zerolog.Logger
}

// Querier exposes the underlying handle for callers composing raw queries
// (balance and lot computations live outside this file).
func (o *ops) Querier() Querier { return o.q }

// --- accounts ---

func validateAccount(a *Account) error {
	if a.Name == "" {
		return &ValidationError{Field: "account.name", Reason: "must not be empty"}
	}
	if a.Kind == AccountBanking && a.CurrencyAssetID == nil {
		return &ValidationError{Field: "account.currency_asset_id", Reason: "banking accounts require a currency asset"}
	}
	return nil
}

func (o *ops) InsertAccount(ctx context.Context, a *Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	return insertRow(ctx, o.q, accountTable, a)
}

func (o *ops) UpdateAccount(ctx context.Context, a *Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	return updateRow(ctx, o.q, accountTable, a)
}

func (o *ops) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return getRow(ctx, o.q, accountTable, id)
}

func (o *ops) DeleteAccount(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, accountTable, id)
}

// Accounts returns accounts matching the SQL predicate, or all of them when
// where is empty.
func (o *ops) Accounts(ctx context.Context, where string, args ...any) ([]Account, error) {
	return selectRows(ctx, o.q, accountTable, where, args...)
}

// --- assets ---

func (o *ops) InsertAsset(ctx context.Context, a *Asset) error {
	if a.Name == "" {
		return &ValidationError{Field: "asset.name", Reason: "must not be empty"}
	}
	return insertRow(ctx, o.q, assetTable, a)
}

func (o *ops) UpdateAsset(ctx context.Context, a *Asset) error {
	return updateRow(ctx, o.q, assetTable, a)
}

func (o *ops) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	return getRow(ctx, o.q, assetTable, id)
}

func (o *ops) DeleteAsset(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, assetTable, id)
}

func (o *ops) Assets(ctx context.Context, where string, args ...any) ([]Asset, error) {
	return selectRows(ctx, o.q, assetTable, where, args...)
}

// --- transactions ---

func (o *ops) InsertTransaction(ctx context.Context, t *Transaction) error {
	if t.When.IsZero() {
		return &ValidationError{Field: "transaction.tx_date", Reason: "must be set"}
	}
	return insertRow(ctx, o.q, transactionTable, t)
}

func (o *ops) UpdateTransaction(ctx context.Context, t *Transaction) error {
	return updateRow(ctx, o.q, transactionTable, t)
}

func (o *ops) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return getRow(ctx, o.q, transactionTable, id)
}

// DeleteTransaction removes a transaction; its entries, and their lots and
// assignments, go with it through foreign-key cascades.
func (o *ops) DeleteTransaction(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, transactionTable, id)
}

func (o *ops) Transactions(ctx context.Context, where string, args ...any) ([]Transaction, error) {
	return selectRows(ctx, o.q, transactionTable, where, args...)
}

// --- entries ---

func validateEntry(e *TransactionEntry) error {
	if e.TransactionID == 0 {
		return &ValidationError{Field: "entry.transaction_id", Reason: "must reference a saved transaction"}
	}
	if e.AccountID == 0 {
		return &ValidationError{Field: "entry.account_id", Reason: "must reference an account"}
	}
	if e.AssetID == 0 {
		return &ValidationError{Field: "entry.asset_id", Reason: "must reference an asset"}
	}
	return nil
}

func (o *ops) InsertEntry(ctx context.Context, e *TransactionEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	return insertRow(ctx, o.q, entryTable, e)
}

// InsertEntries inserts the legs of a transaction in order. Run it inside
// WithTx; a failure on any leg must abort the whole batch.
func (o *ops) InsertEntries(ctx context.Context, entries []*TransactionEntry) error {
	for _, e := range entries {
		if err := o.InsertEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (o *ops) UpdateEntry(ctx context.Context, e *TransactionEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	return updateRow(ctx, o.q, entryTable, e)
}

func (o *ops) GetEntry(ctx context.Context, id int64) (*TransactionEntry, error) {
	return getRow(ctx, o.q, entryTable, id)
}

func (o *ops) DeleteEntry(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, entryTable, id)
}

func (o *ops) Entries(ctx context.Context, where string, args ...any) ([]TransactionEntry, error) {
	return selectRows(ctx, o.q, entryTable, where, args...)
}

// --- tax lots ---

func (o *ops) InsertTaxLot(ctx context.Context, l *TaxLot) error {
	if l.CreatingEntryID == 0 {
		return &ValidationError{Field: "tax_lot.creating_entry_id", Reason: "must reference the acquiring entry"}
	}
	if l.Amount.Valid && l.Amount.Decimal.Sign() <= 0 {
		return &ValidationError{Field: "tax_lot.amount", Reason: "override amount must be positive"}
	}
	return insertRow(ctx, o.q, taxLotTable, l)
}

func (o *ops) UpdateTaxLot(ctx context.Context, l *TaxLot) error {
	return updateRow(ctx, o.q, taxLotTable, l)
}

func (o *ops) GetTaxLot(ctx context.Context, id int64) (*TaxLot, error) {
	return getRow(ctx, o.q, taxLotTable, id)
}

// DeleteTaxLot removes a lot and cascades to its assignments.
func (o *ops) DeleteTaxLot(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, taxLotTable, id)
}

func (o *ops) TaxLots(ctx context.Context, where string, args ...any) ([]TaxLot, error) {
	return selectRows(ctx, o.q, taxLotTable, where, args...)
}

// --- lot assignments ---

// assignmentFits rejects an assignment that would consume more than its lot
// still has open. exclude is the assignment's own id on update, so it is not
// counted against itself.
func (o *ops) assignmentFits(ctx context.Context, a *TaxLotAssignment, exclude int64) error {
	var acquired decimal.Decimal
	err := o.q.QueryRowContext(ctx, `
		SELECT COALESCE(lot.amount, e.amount)
		FROM tax_lots lot
		JOIN transaction_entries e ON e.id = lot.creating_entry_id
		WHERE lot.id = ?
	`, a.TaxLotID).Scan(&acquired)
	if errors.Is(err, sql.ErrNoRows) {
		// A missing lot is the foreign key's error to report.
		return nil
	}
	if err != nil {
		return fmt.Errorf("check lot %d: %w", a.TaxLotID, err)
	}

	rows, err := o.q.QueryContext(ctx,
		"SELECT amount FROM tax_lot_assignments WHERE tax_lot_id = ? AND id != ?", a.TaxLotID, exclude)
	if err != nil {
		return fmt.Errorf("check lot %d: %w", a.TaxLotID, err)
	}
	defer rows.Close()
	consumed := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return fmt.Errorf("check lot %d: %w", a.TaxLotID, err)
		}
		consumed = consumed.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("check lot %d: %w", a.TaxLotID, err)
	}

	if consumed.Add(a.Amount).GreaterThan(acquired) {
		return &ConstraintViolationError{
			Op: "assign tax_lot_assignments",
			Err: fmt.Errorf("assignment of %s exceeds lot %d remaining amount %s",
				a.Amount, a.TaxLotID, acquired.Sub(consumed)),
		}
	}
	return nil
}

func (o *ops) InsertAssignment(ctx context.Context, a *TaxLotAssignment) error {
	if a.Amount.Sign() <= 0 {
		return &ValidationError{Field: "assignment.amount", Reason: "must be positive"}
	}
	if err := o.assignmentFits(ctx, a, 0); err != nil {
		return err
	}
	return insertRow(ctx, o.q, assignmentTable, a)
}

func (o *ops) UpdateAssignment(ctx context.Context, a *TaxLotAssignment) error {
	if a.Amount.Sign() <= 0 {
		return &ValidationError{Field: "assignment.amount", Reason: "must be positive"}
	}
	if err := o.assignmentFits(ctx, a, a.ID); err != nil {
		return err
	}
	return updateRow(ctx, o.q, assignmentTable, a)
}

func (o *ops) GetAssignment(ctx context.Context, id int64) (*TaxLotAssignment, error) {
	return getRow(ctx, o.q, assignmentTable, id)
}

func (o *ops) DeleteAssignment(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, assignmentTable, id)
}

func (o *ops) Assignments(ctx context.Context, where string, args ...any) ([]TaxLotAssignment, error) {
	return selectRows(ctx, o.q, assignmentTable, where, args...)
}

// --- prices ---

func (o *ops) InsertPrice(ctx context.Context, p *AssetPrice) error {
	if p.Price.Sign() < 0 {
		return &ValidationError{Field: "price.price", Reason: "must not be negative"}
	}
	return insertRow(ctx, o.q, priceTable, p)
}

func (o *ops) UpdatePrice(ctx context.Context, p *AssetPrice) error {
	return updateRow(ctx, o.q, priceTable, p)
}

func (o *ops) GetPrice(ctx context.Context, id int64) (*AssetPrice, error) {
	return getRow(ctx, o.q, priceTable, id)
}

func (o *ops) DeletePrice(ctx context.Context, id int64) error {
	return deleteRow(ctx, o.q, priceTable, id)
}

func (o *ops) Prices(ctx context.Context, where string, args ...any) ([]AssetPrice, error) {
	return selectRows(ctx, o.q, priceTable, where, args...)
}

// --- configuration singleton ---

// GetConfiguration returns the preferences row, or defaults when the store
// has never saved one.
func (o *ops) GetConfiguration(ctx context.Context) (*Configuration, error) {
	row := o.q.QueryRowContext(ctx, "SELECT id, display_asset_id, commission_account_id FROM configuration WHERE id = 1")
	var c Configuration
	err := row.Scan(&c.ID, &c.DisplayAssetID, &c.CommissionAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Configuration{ID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return &c, nil
}

// SaveConfiguration writes the singleton preferences row.
func (o *ops) SaveConfiguration(ctx context.Context, c *Configuration) error {
	c.ID = 1
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO configuration (id, display_asset_id, commission_account_id)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_asset_id = excluded.display_asset_id,
			commission_account_id = excluded.commission_account_id
	`, c.DisplayAssetID, c.CommissionAccountID)
	return wrapDBErr("save configuration", err)
}
