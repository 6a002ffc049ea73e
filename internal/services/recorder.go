package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/taxlot"
)

// Recorder is the command side of the ledger: it turns a validated
// multi-entry transaction into rows, and runs the tax-lot bookkeeping that
// follows from it, all inside one store transaction. Either everything
// lands, or nothing does.
type Recorder struct {
	store  *ledger.Store
	engine *taxlot.Engine
	log    zerolog.Logger
}

func NewRecorder(store *ledger.Store, engine *taxlot.Engine, log zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		engine: engine,
		log:    log.With().Str("service", "recorder").Logger(),
	}
}

// EntryInput is one leg of a transaction to record.
type EntryInput struct {
	AccountID int64
	AssetID   int64
	Amount    decimal.Decimal
	Cleared   ledger.ClearedState
	Memo      *string
	OfxFitID  *string
	// Lot overrides the defaults of the lot an acquiring leg opens
	// (split amount, preserved acquisition date, cost basis).
	Lot *taxlot.LotOptions
}

// TransactionInput is a transaction to record with all its legs.
type TransactionInput struct {
	When           ledger.Date
	Action         ledger.Action
	CheckNumber    *int64
	Payee          *string
	Memo           *string
	RelatedAssetID *int64
	Entries        []EntryInput
}

// RecordResult reports what one Record call persisted.
type RecordResult struct {
	Transaction ledger.Transaction
	Entries     []ledger.TransactionEntry
	LotsOpened  []ledger.TaxLot
	Assignments []ledger.TaxLotAssignment
}

func validateInput(in *TransactionInput) error {
	if in.When.IsZero() {
		return &ledger.ValidationError{Field: "transaction.tx_date", Reason: "must be set"}
	}
	if len(in.Entries) == 0 {
		return &ledger.ValidationError{Field: "transaction.entries", Reason: "at least one entry required"}
	}
	if in.Action == ledger.ActionTransfer {
		// A transfer moves value, it does not create or destroy it: the
		// legs must cancel out per asset.
		sums := make(map[int64]decimal.Decimal)
		for _, e := range in.Entries {
			sums[e.AssetID] = sums[e.AssetID].Add(e.Amount)
		}
		for assetID, sum := range sums {
			if !sum.IsZero() {
				return &ledger.ValidationError{
					Field:  "transaction.entries",
					Reason: "transfer entries must sum to zero per asset (asset " + decimal.NewFromInt(assetID).String() + " sums to " + sum.String() + ")",
				}
			}
		}
	}
	return nil
}

// Record persists the transaction, its entries, and the lot work they imply.
// Acquiring legs of tracked assets open lots; disposing legs consume them
// oldest-first; a transfer of a tracked asset carries its lots, acquisition
// dates and basis into the receiving account. A disposal that exceeds the
// open lots fails with taxlot.ShortfallError and nothing is recorded.
func (r *Recorder) Record(ctx context.Context, in TransactionInput) (*RecordResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	var result *RecordResult
	err := r.store.WithTx(ctx, func(tx *ledger.Tx) error {
		res, err := r.record(ctx, tx, &in)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("transaction_id", result.Transaction.ID).
		Str("action", in.Action.String()).
		Int("entries", len(result.Entries)).
		Msg("transaction recorded")
	return result, nil
}

func (r *Recorder) record(ctx context.Context, tx *ledger.Tx, in *TransactionInput) (*RecordResult, error) {
	transaction := ledger.Transaction{
		When:           in.When,
		Action:         in.Action,
		CheckNumber:    in.CheckNumber,
		Payee:          in.Payee,
		Memo:           in.Memo,
		RelatedAssetID: in.RelatedAssetID,
	}
	if err := tx.InsertTransaction(ctx, &transaction); err != nil {
		return nil, err
	}

	result := &RecordResult{Transaction: transaction}
	entries := make([]*ledger.TransactionEntry, len(in.Entries))
	for i, e := range in.Entries {
		entries[i] = &ledger.TransactionEntry{
			TransactionID: transaction.ID,
			AccountID:     e.AccountID,
			AssetID:       e.AssetID,
			Amount:        e.Amount,
			Cleared:       e.Cleared,
			Memo:          e.Memo,
			OfxFitID:      e.OfxFitID,
		}
	}
	if err := tx.InsertEntries(ctx, entries); err != nil {
		return nil, err
	}

	// Tracked transfer legs are handled pairwise so lots carry over; other
	// legs open or consume lots individually.
	if in.Action == ledger.ActionTransfer {
		if err := r.transferLots(ctx, tx, in, entries, result); err != nil {
			return nil, err
		}
	} else {
		for i, entry := range entries {
			tracked, err := r.engine.Tracks(ctx, tx, entry)
			if err != nil {
				return nil, err
			}
			if !tracked {
				continue
			}
			switch {
			case entry.Amount.Sign() > 0 && in.Action.Acquires():
				opts := taxlot.LotOptions{}
				if in.Entries[i].Lot != nil {
					opts = *in.Entries[i].Lot
				}
				lot, err := r.engine.OpenLot(ctx, tx, entry, opts)
				if err != nil {
					return nil, err
				}
				result.LotsOpened = append(result.LotsOpened, *lot)
			case entry.Amount.Sign() < 0 && in.Action.Disposes():
				assignments, err := r.engine.Consume(ctx, tx, entry, in.When)
				if err != nil {
					return nil, err
				}
				result.Assignments = append(result.Assignments, assignments...)
			}
		}
	}

	for _, e := range entries {
		result.Entries = append(result.Entries, *e)
	}
	return result, nil
}

func (r *Recorder) transferLots(ctx context.Context, tx *ledger.Tx, in *TransactionInput, entries []*ledger.TransactionEntry, result *RecordResult) error {
	// Pair each tracked outgoing leg with the incoming leg of the same
	// asset. Cash legs of the transfer need no lot work.
	for _, out := range entries {
		if out.Amount.Sign() >= 0 {
			continue
		}
		tracked, err := r.engine.Tracks(ctx, tx, out)
		if err != nil {
			return err
		}
		if !tracked {
			continue
		}
		var in2 *ledger.TransactionEntry
		for _, candidate := range entries {
			if candidate.AssetID == out.AssetID && candidate.Amount.Sign() > 0 {
				in2 = candidate
				break
			}
		}
		if in2 == nil {
			return &ledger.ValidationError{Field: "transaction.entries", Reason: "transfer of a tracked asset requires a receiving leg"}
		}
		lots, err := r.engine.Transfer(ctx, tx, out, in2, in.When)
		if err != nil {
			return err
		}
		result.LotsOpened = append(result.LotsOpened, lots...)
	}
	return nil
}

// Remove deletes a transaction; entries, lots and assignments fall with it
// through the store's cascade rules.
func (r *Recorder) Remove(ctx context.Context, transactionID int64) error {
	return r.store.WithTx(ctx, func(tx *ledger.Tx) error {
		return tx.DeleteTransaction(ctx, transactionID)
	})
}

// Rematch re-runs automatic lot matching for a disposal entry, keeping its
// pinned assignments fixed. Used after a pin or unpin changed what the
// matcher may touch.
func (r *Recorder) Rematch(ctx context.Context, entryID int64) ([]ledger.TaxLotAssignment, error) {
	var assignments []ledger.TaxLotAssignment
	err := r.store.WithTx(ctx, func(tx *ledger.Tx) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		transaction, err := tx.GetTransaction(ctx, entry.TransactionID)
		if err != nil {
			return err
		}
		assignments, err = r.engine.Consume(ctx, tx, entry, transaction.When)
		return err
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// Pin locks or releases one assignment and re-matches the rest of its
// disposal around it.
func (r *Recorder) Pin(ctx context.Context, assignmentID int64, pinned bool) ([]ledger.TaxLotAssignment, error) {
	var assignments []ledger.TaxLotAssignment
	err := r.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if err := r.engine.Pin(ctx, tx, assignmentID, pinned); err != nil {
			return err
		}
		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		entry, err := tx.GetEntry(ctx, a.ConsumingEntryID)
		if err != nil {
			return err
		}
		transaction, err := tx.GetTransaction(ctx, entry.TransactionID)
		if err != nil {
			return err
		}
		assignments, err = r.engine.Consume(ctx, tx, entry, transaction.When)
		return err
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}
