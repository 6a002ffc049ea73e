package taxlot

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/ledger"
)

// AllocateBasis splits a lot's cost basis across its assignments in
// proportion to the quantity each consumed. The assignment that closes the
// lot receives the exact remainder, so however many partial consumptions a
// lot goes through, the allocated slices always sum back to the original
// basis to the last decimal.
func AllocateBasis(view *LotView, assignments []ledger.TaxLotAssignment) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(assignments))
	if !view.CostBasis.Valid || view.Acquired.Sign() == 0 {
		return out
	}
	order := make([]int, len(assignments))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return assignments[order[i]].ID < assignments[order[j]].ID
	})

	basis := view.CostBasis.Decimal
	consumed := decimal.Zero
	allocated := decimal.Zero
	for _, idx := range order {
		amount := assignments[idx].Amount
		consumed = consumed.Add(amount)
		var share decimal.Decimal
		if consumed.Equal(view.Acquired) {
			share = basis.Sub(allocated)
		} else {
			share = basis.Mul(amount).Div(view.Acquired)
		}
		allocated = allocated.Add(share)
		out[idx] = decimal.NullDecimal{Decimal: share, Valid: true}
	}
	return out
}

// BasisOf returns the cost-basis slice attributed to one assignment.
func (e *Engine) BasisOf(ctx context.Context, l Ledger, assignmentID int64) (decimal.NullDecimal, error) {
	a, err := l.GetAssignment(ctx, assignmentID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	lot, err := l.GetTaxLot(ctx, a.TaxLotID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	view, err := e.resolve(ctx, l, lot)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	assignments, err := l.Assignments(ctx, "tax_lot_id = ?", lot.ID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	shares := AllocateBasis(view, assignments)
	for i, other := range assignments {
		if other.ID == assignmentID {
			return shares[i], nil
		}
	}
	return decimal.NullDecimal{}, fmt.Errorf("basis of assignment %d: %w", assignmentID, ledger.ErrNotFound)
}

// Realized is one consumed lot slice with its attributed basis and holding
// period classification.
type Realized struct {
	AssignmentID int64
	LotID        int64
	AccountID    int64
	AssetID      int64
	AcquiredDate ledger.Date
	DisposedDate ledger.Date
	Amount       decimal.Decimal
	Basis        decimal.NullDecimal
	BasisAssetID *int64
	LongTerm     bool
}

// Realized reports every consumed lot slice for an account (all accounts
// when accountID is zero). LongTerm is true when the disposal falls more
// than a year after the effective acquisition date.
func (e *Engine) Realized(ctx context.Context, l Ledger, accountID int64) ([]Realized, error) {
	lots, err := e.Lots(ctx, l, accountID, 0)
	if err != nil {
		return nil, err
	}

	var out []Realized
	for i := range lots {
		view := &lots[i]
		if view.Consumed.IsZero() {
			continue
		}
		assignments, err := l.Assignments(ctx, "tax_lot_id = ?", view.Lot.ID)
		if err != nil {
			return nil, err
		}
		shares := AllocateBasis(view, assignments)
		for j, a := range assignments {
			entry, err := l.GetEntry(ctx, a.ConsumingEntryID)
			if err != nil {
				return nil, err
			}
			tx, err := l.GetTransaction(ctx, entry.TransactionID)
			if err != nil {
				return nil, err
			}
			longTermFrom := ledger.DateOf(view.AcquiredDate.Time().AddDate(1, 0, 0))
			out = append(out, Realized{
				AssignmentID: a.ID,
				LotID:        view.Lot.ID,
				AccountID:    view.AccountID,
				AssetID:      view.AssetID,
				AcquiredDate: view.AcquiredDate,
				DisposedDate: tx.When,
				Amount:       a.Amount,
				Basis:        shares[j],
				BasisAssetID: view.CostBasisAssetID,
				LongTerm:     tx.When.After(longTermFrom),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisposedDate != out[j].DisposedDate {
			return out[i].DisposedDate.Before(out[j].DisposedDate)
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out, nil
}
