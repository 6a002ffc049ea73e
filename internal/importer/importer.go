package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/ledger"
)

// StatementRecord is one normalized bank-statement line. Format decoding
// (QIF, OFX) happens upstream; by the time a record reaches the importer it
// is already plain data.
type StatementRecord struct {
	Date    ledger.Date
	Payee   string
	Memo    string
	Amount  decimal.Decimal
	Cleared ledger.ClearedState
	FitID   string // bank-assigned id; empty when the format has none
}

// Result summarizes one import run.
type Result struct {
	BatchID  string
	Imported int
	Skipped  int
}

// Importer writes normalized statement records into a target account,
// skipping records whose FIT id the account has already seen. Re-importing
// the same statement is therefore a no-op.
type Importer struct {
	store *ledger.Store
	log   zerolog.Logger
}

func New(store *ledger.Store, log zerolog.Logger) *Importer {
	return &Importer{
		store: store,
		log:   log.With().Str("component", "importer").Logger(),
	}
}

// ImportStatement imports records into a banking account. Each record is its
// own atomic unit: a failure rolls back only the in-flight record, and
// cancellation is honored between records, never inside one.
func (i *Importer) ImportStatement(ctx context.Context, accountID int64, records []StatementRecord) (*Result, error) {
	account, err := i.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Kind != ledger.AccountBanking || account.CurrencyAssetID == nil {
		return nil, &ledger.ValidationError{Field: "account", Reason: "statement import targets a banking account with a currency"}
	}
	assetID := *account.CurrencyAssetID

	result := &Result{BatchID: uuid.NewString()}
	for idx, record := range records {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import cancelled after %d records: %w", idx, err)
		}

		if record.FitID != "" {
			seen, err := i.seen(ctx, accountID, record.FitID)
			if err != nil {
				return result, err
			}
			if seen {
				result.Skipped++
				continue
			}
		}

		if err := i.importOne(ctx, accountID, assetID, record); err != nil {
			return result, fmt.Errorf("import record %d: %w", idx, err)
		}
		result.Imported++
	}

	i.log.Info().
		Str("batch_id", result.BatchID).
		Int64("account_id", accountID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("statement imported")
	return result, nil
}

func (i *Importer) seen(ctx context.Context, accountID int64, fitID string) (bool, error) {
	entries, err := i.store.Entries(ctx, "account_id = ? AND ofx_fit_id = ?", accountID, fitID)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (i *Importer) importOne(ctx context.Context, accountID, assetID int64, record StatementRecord) error {
	action := ledger.ActionDeposit
	if record.Amount.Sign() < 0 {
		action = ledger.ActionWithdraw
	}

	return i.store.WithTx(ctx, func(tx *ledger.Tx) error {
		transaction := ledger.Transaction{
			When:   record.Date,
			Action: action,
		}
		if record.Payee != "" {
			transaction.Payee = &record.Payee
		}
		if record.Memo != "" {
			transaction.Memo = &record.Memo
		}
		if err := tx.InsertTransaction(ctx, &transaction); err != nil {
			return err
		}

		entry := ledger.TransactionEntry{
			TransactionID: transaction.ID,
			AccountID:     accountID,
			AssetID:       assetID,
			Amount:        record.Amount,
			Cleared:       record.Cleared,
		}
		if record.FitID != "" {
			entry.OfxFitID = &record.FitID
		}
		return tx.InsertEntry(ctx, &entry)
	})
}
