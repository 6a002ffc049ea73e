package taxlot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/ledger"
)

// Transfer moves a security position between accounts without a taxable
// event. The outgoing entry consumes lots in the source account exactly like
// a disposal; each consumed slice reopens in the target account as a new lot
// carrying the original effective acquisition date and its proportional
// share of the cost basis, so holding periods survive the move.
//
// outEntry and inEntry are the two saved legs of the transfer transaction:
// equal magnitude, opposite sign, same asset, different accounts. Run inside
// the transaction that inserted them.
func (e *Engine) Transfer(ctx context.Context, l Ledger, outEntry, inEntry *ledger.TransactionEntry, when ledger.Date) ([]ledger.TaxLot, error) {
	if outEntry.AssetID != inEntry.AssetID {
		return nil, &ledger.ValidationError{Field: "entry.asset_id", Reason: "transfer legs must move the same asset"}
	}
	if outEntry.AccountID == inEntry.AccountID {
		return nil, &ledger.ValidationError{Field: "entry.account_id", Reason: "transfer legs must target different accounts"}
	}
	if !outEntry.Amount.Neg().Equal(inEntry.Amount) {
		return nil, &ledger.ValidationError{Field: "entry.amount", Reason: "transfer legs must have equal magnitude and opposite sign"}
	}

	assignments, err := e.Consume(ctx, l, outEntry, when)
	if err != nil {
		return nil, err
	}

	var opened []ledger.TaxLot
	for _, a := range assignments {
		lot, err := l.GetTaxLot(ctx, a.TaxLotID)
		if err != nil {
			return nil, err
		}
		view, err := e.resolve(ctx, l, lot)
		if err != nil {
			return nil, err
		}
		opts := LotOptions{
			AcquiredDate:     ledger.SomeDate(view.AcquiredDate),
			Amount:           decimal.NullDecimal{Decimal: a.Amount, Valid: true},
			CostBasisAssetID: view.CostBasisAssetID,
		}
		if view.CostBasis.Valid && view.Acquired.Sign() > 0 {
			share := view.CostBasis.Decimal.Mul(a.Amount).Div(view.Acquired)
			if a.Amount.Equal(view.Acquired) {
				share = view.CostBasis.Decimal
			}
			opts.CostBasis = decimal.NullDecimal{Decimal: share, Valid: true}
		}
		newLot, err := e.OpenLot(ctx, l, inEntry, opts)
		if err != nil {
			return nil, err
		}
		opened = append(opened, *newLot)
	}

	e.log.Debug().
		Int64("out_entry", outEntry.ID).
		Int64("in_entry", inEntry.ID).
		Int("lots", len(opened)).
		Msg("position transferred")
	return opened, nil
}
