package taxlot

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/ledger"
)

// Ledger is the slice of the entity store the engine works through. Both
// *ledger.Store and *ledger.Tx satisfy it; lot bookkeeping that belongs to a
// larger mutation must be handed the Tx so it commits or rolls back with it.
type Ledger interface {
	Querier() ledger.Querier
	GetAccount(ctx context.Context, id int64) (*ledger.Account, error)
	GetAsset(ctx context.Context, id int64) (*ledger.Asset, error)
	GetEntry(ctx context.Context, id int64) (*ledger.TransactionEntry, error)
	GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error)
	GetTaxLot(ctx context.Context, id int64) (*ledger.TaxLot, error)
	TaxLots(ctx context.Context, where string, args ...any) ([]ledger.TaxLot, error)
	GetAssignment(ctx context.Context, id int64) (*ledger.TaxLotAssignment, error)
	Assignments(ctx context.Context, where string, args ...any) ([]ledger.TaxLotAssignment, error)
	InsertTaxLot(ctx context.Context, l *ledger.TaxLot) error
	InsertAssignment(ctx context.Context, a *ledger.TaxLotAssignment) error
	UpdateAssignment(ctx context.Context, a *ledger.TaxLotAssignment) error
	DeleteAssignment(ctx context.Context, id int64) error
}

// LotState is the lifecycle position of a lot.
type LotState int

const (
	Open LotState = iota
	PartiallyConsumed
	Closed
)

func (s LotState) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyConsumed:
		return "partially-consumed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// LotView is a lot resolved against its creating entry: overrides applied,
// assignment totals folded in.
type LotView struct {
	Lot              ledger.TaxLot
	AccountID        int64
	AssetID          int64
	AcquiredDate     ledger.Date     // override if set, else the creating transaction's date
	Acquired         decimal.Decimal // override if set, else the creating entry's amount
	Consumed         decimal.Decimal
	Remaining        decimal.Decimal
	CostBasis        decimal.NullDecimal
	CostBasisAssetID *int64
}

// State derives the lifecycle state from the amounts.
func (v *LotView) State() LotState {
	switch {
	case v.Consumed.IsZero():
		return Open
	case v.Remaining.Sign() > 0:
		return PartiallyConsumed
	default:
		return Closed
	}
}

// ShortfallError reports a disposal that could not be covered by the open
// lots available on its date. Nothing is fabricated to absorb the gap; the
// caller decides whether to record the transaction without full assignment.
type ShortfallError struct {
	EntryID   int64
	Requested decimal.Decimal
	Covered   decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("disposal entry %d of %s exceeds open lots by %s",
		e.EntryID, e.Requested, e.Requested.Sub(e.Covered))
}

// Shortfall is the uncovered quantity.
func (e *ShortfallError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Covered)
}

// Engine owns tax-lot bookkeeping: opening lots on acquisitions, matching
// disposals to lots, and the cost-basis arithmetic behind realized gains.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "taxlot").Logger()}
}

// LotOptions override a new lot's defaults. AcquiredDate carries the original
// purchase date across an account transfer; Amount supports splitting an
// acquisition into several lots.
type LotOptions struct {
	AcquiredDate     ledger.NullDate
	Amount           decimal.NullDecimal
	CostBasis        decimal.NullDecimal
	CostBasisAssetID *int64
}

// Tracks reports whether an entry is subject to lot tracking: a security
// held in an investing account.
func (e *Engine) Tracks(ctx context.Context, l Ledger, entry *ledger.TransactionEntry) (bool, error) {
	account, err := l.GetAccount(ctx, entry.AccountID)
	if err != nil {
		return false, err
	}
	if account.Kind != ledger.AccountInvesting {
		return false, nil
	}
	asset, err := l.GetAsset(ctx, entry.AssetID)
	if err != nil {
		return false, err
	}
	return asset.Kind == ledger.AssetSecurity, nil
}

// OpenLot creates a lot for an acquiring entry. The entry must already be
// saved and must increase a tracked asset.
func (e *Engine) OpenLot(ctx context.Context, l Ledger, entry *ledger.TransactionEntry, opts LotOptions) (*ledger.TaxLot, error) {
	if entry.ID == 0 {
		return nil, &ledger.ValidationError{Field: "entry.id", Reason: "lot requires a saved entry"}
	}
	if entry.Amount.Sign() <= 0 {
		return nil, &ledger.ValidationError{Field: "entry.amount", Reason: "acquiring entry must be positive"}
	}
	lot := &ledger.TaxLot{
		CreatingEntryID:  entry.ID,
		AcquiredDate:     opts.AcquiredDate,
		Amount:           opts.Amount,
		CostBasisAmount:  opts.CostBasis,
		CostBasisAssetID: opts.CostBasisAssetID,
	}
	if err := l.InsertTaxLot(ctx, lot); err != nil {
		return nil, err
	}
	e.log.Debug().Int64("lot_id", lot.ID).Int64("entry_id", entry.ID).Msg("lot opened")
	return lot, nil
}

// Lots returns the resolved lots of an account (all accounts when accountID
// is zero), optionally filtered to one asset, ordered by effective
// acquisition date then lot id.
func (e *Engine) Lots(ctx context.Context, l Ledger, accountID, assetID int64) ([]LotView, error) {
	var conds string
	var args []any
	if accountID != 0 {
		conds += " AND e.account_id = ?"
		args = append(args, accountID)
	}
	if assetID != 0 {
		conds += " AND e.asset_id = ?"
		args = append(args, assetID)
	}

	// Assignment amounts are summed here rather than in SQL: the store
	// keeps them as decimal text, and SQL aggregation would round-trip
	// them through floats.
	consumedByLot := make(map[int64]decimal.Decimal)
	assignRows, err := l.Querier().QueryContext(ctx, `
		SELECT a.tax_lot_id, a.amount
		FROM tax_lot_assignments a
		JOIN tax_lots lot ON lot.id = a.tax_lot_id
		JOIN transaction_entries e ON e.id = lot.creating_entry_id
		WHERE 1 = 1`+conds, args...)
	if err != nil {
		return nil, fmt.Errorf("query lot assignments: %w", err)
	}
	for assignRows.Next() {
		var lotID int64
		var amount decimal.Decimal
		if err := assignRows.Scan(&lotID, &amount); err != nil {
			assignRows.Close()
			return nil, fmt.Errorf("scan lot assignment: %w", err)
		}
		consumedByLot[lotID] = consumedByLot[lotID].Add(amount)
	}
	assignRows.Close()
	if err := assignRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lot assignments: %w", err)
	}

	rows, err := l.Querier().QueryContext(ctx, `
		SELECT lot.id, lot.creating_entry_id, lot.acquired_date, lot.amount,
		       lot.cost_basis_amount, lot.cost_basis_asset_id,
		       e.account_id, e.asset_id, e.amount, t.tx_date
		FROM tax_lots lot
		JOIN transaction_entries e ON e.id = lot.creating_entry_id
		JOIN transactions t ON t.id = e.transaction_id
		WHERE 1 = 1`+conds, args...)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	var views []LotView
	for rows.Next() {
		var v LotView
		var entryAmount decimal.Decimal
		var txDate ledger.Date
		if err := rows.Scan(
			&v.Lot.ID, &v.Lot.CreatingEntryID, &v.Lot.AcquiredDate, &v.Lot.Amount,
			&v.Lot.CostBasisAmount, &v.Lot.CostBasisAssetID,
			&v.AccountID, &v.AssetID, &entryAmount, &txDate,
		); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		consumed := consumedByLot[v.Lot.ID]
		v.AcquiredDate = txDate
		if v.Lot.AcquiredDate.Valid {
			v.AcquiredDate = v.Lot.AcquiredDate.Date
		}
		v.Acquired = entryAmount
		if v.Lot.Amount.Valid {
			v.Acquired = v.Lot.Amount.Decimal
		}
		v.Consumed = consumed
		v.Remaining = v.Acquired.Sub(consumed)
		v.CostBasis = v.Lot.CostBasisAmount
		v.CostBasisAssetID = v.Lot.CostBasisAssetID
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lots: %w", err)
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].AcquiredDate != views[j].AcquiredDate {
			return views[i].AcquiredDate.Before(views[j].AcquiredDate)
		}
		return views[i].Lot.ID < views[j].Lot.ID
	})
	return views, nil
}

// Unsold returns the lots of an account that still have quantity open.
func (e *Engine) Unsold(ctx context.Context, l Ledger, accountID, assetID int64) ([]LotView, error) {
	views, err := e.Lots(ctx, l, accountID, assetID)
	if err != nil {
		return nil, err
	}
	open := views[:0]
	for _, v := range views {
		if v.Remaining.Sign() > 0 {
			open = append(open, v)
		}
	}
	return open, nil
}

// Remaining returns a single lot's unconsumed quantity.
func (e *Engine) Remaining(ctx context.Context, l Ledger, lotID int64) (decimal.Decimal, error) {
	lot, err := l.GetTaxLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	view, err := e.resolve(ctx, l, lot)
	if err != nil {
		return decimal.Zero, err
	}
	return view.Remaining, nil
}

func (e *Engine) resolve(ctx context.Context, l Ledger, lot *ledger.TaxLot) (*LotView, error) {
	entry, err := l.GetEntry(ctx, lot.CreatingEntryID)
	if err != nil {
		return nil, err
	}
	tx, err := l.GetTransaction(ctx, entry.TransactionID)
	if err != nil {
		return nil, err
	}
	assignments, err := l.Assignments(ctx, "tax_lot_id = ?", lot.ID)
	if err != nil {
		return nil, err
	}
	v := &LotView{
		Lot:              *lot,
		AccountID:        entry.AccountID,
		AssetID:          entry.AssetID,
		AcquiredDate:     tx.When,
		Acquired:         entry.Amount,
		CostBasis:        lot.CostBasisAmount,
		CostBasisAssetID: lot.CostBasisAssetID,
	}
	if lot.AcquiredDate.Valid {
		v.AcquiredDate = lot.AcquiredDate.Date
	}
	if lot.Amount.Valid {
		v.Acquired = lot.Amount.Decimal
	}
	for _, a := range assignments {
		v.Consumed = v.Consumed.Add(a.Amount)
	}
	v.Remaining = v.Acquired.Sub(v.Consumed)
	return v, nil
}

// Consume matches a disposal entry against the open lots of its account.
// Pinned assignments already placed on the entry are honored at their fixed
// amounts; prior unpinned assignments are discarded and the rest of the
// disposal is filled oldest-first from lots whose effective acquisition date
// is on or before the disposal date. When the open quantity cannot cover the
// disposal the engine leaves the pinned assignments in place and returns a
// ShortfallError.
//
// Run inside the same transaction as the disposal entry itself.
func (e *Engine) Consume(ctx context.Context, l Ledger, entry *ledger.TransactionEntry, when ledger.Date) ([]ledger.TaxLotAssignment, error) {
	if entry.Amount.Sign() >= 0 {
		return nil, &ledger.ValidationError{Field: "entry.amount", Reason: "disposal entry must be negative"}
	}
	needed := entry.Amount.Neg()

	existing, err := l.Assignments(ctx, "consuming_entry_id = ?", entry.ID)
	if err != nil {
		return nil, err
	}

	var kept []ledger.TaxLotAssignment
	pinnedTotal := decimal.Zero
	pinnedLots := make(map[int64]bool)
	for _, a := range existing {
		if a.Pinned {
			kept = append(kept, a)
			pinnedTotal = pinnedTotal.Add(a.Amount)
			pinnedLots[a.TaxLotID] = true
			continue
		}
		if err := l.DeleteAssignment(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	if pinnedTotal.GreaterThan(needed) {
		return nil, &ledger.ValidationError{
			Field:  "assignment.amount",
			Reason: fmt.Sprintf("pinned assignments total %s exceed disposal of %s", pinnedTotal, needed),
		}
	}

	toFill := needed.Sub(pinnedTotal)
	lots, err := e.Lots(ctx, l, entry.AccountID, entry.AssetID)
	if err != nil {
		return nil, err
	}

	assignments := kept
	for _, lot := range lots {
		if toFill.IsZero() {
			break
		}
		if pinnedLots[lot.Lot.ID] {
			continue // automatic matching only draws from unpinned lots
		}
		if lot.AcquiredDate.After(when) {
			continue // a lot cannot be consumed before it existed
		}
		if lot.Remaining.Sign() <= 0 {
			continue
		}
		take := decimal.Min(lot.Remaining, toFill)
		a := ledger.TaxLotAssignment{
			TaxLotID:         lot.Lot.ID,
			ConsumingEntryID: entry.ID,
			Amount:           take,
		}
		if err := l.InsertAssignment(ctx, &a); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
		toFill = toFill.Sub(take)
	}

	if toFill.Sign() > 0 {
		return assignments, &ShortfallError{
			EntryID:   entry.ID,
			Requested: needed,
			Covered:   needed.Sub(toFill),
		}
	}

	e.log.Debug().
		Int64("entry_id", entry.ID).
		Str("amount", needed.String()).
		Int("assignments", len(assignments)).
		Msg("disposal matched")
	return assignments, nil
}

// Pin marks an assignment as user-locked so automatic matching will not
// rewrite it; Unpin releases it back to the matcher.
func (e *Engine) Pin(ctx context.Context, l Ledger, assignmentID int64, pinned bool) error {
	a, err := l.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	a.Pinned = pinned
	return l.UpdateAssignment(ctx, a)
}
