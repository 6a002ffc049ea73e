package taxlot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta-app/moneta/internal/database"
	"github.com/moneta-app/moneta/internal/ledger"
)

type fixture struct {
	store  *ledger.Store
	engine *Engine
	usd    *ledger.Asset
	sec    *ledger.Asset
	broker *ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background(), "test"))

	f := &fixture{
		store:  ledger.NewStore(db.Conn(), zerolog.Nop()),
		engine: NewEngine(zerolog.Nop()),
	}
	ctx := context.Background()
	f.usd = &ledger.Asset{Name: "US Dollar", Kind: ledger.AssetCurrency}
	require.NoError(t, f.store.InsertAsset(ctx, f.usd))
	f.sec = &ledger.Asset{Name: "Acme Corp", Kind: ledger.AssetSecurity}
	require.NoError(t, f.store.InsertAsset(ctx, f.sec))
	f.broker = &ledger.Account{Name: "Brokerage", Kind: ledger.AccountInvesting, CurrencyAssetID: &f.usd.ID}
	require.NoError(t, f.store.InsertAccount(ctx, f.broker))
	return f
}

// post inserts a transaction with a single security entry in the broker
// account and returns the saved entry.
func (f *fixture) post(t *testing.T, when ledger.Date, action ledger.Action, amount string) *ledger.TransactionEntry {
	t.Helper()
	return f.postIn(t, when, action, f.broker.ID, amount)
}

func (f *fixture) postIn(t *testing.T, when ledger.Date, action ledger.Action, accountID int64, amount string) *ledger.TransactionEntry {
	t.Helper()
	ctx := context.Background()
	transaction := &ledger.Transaction{When: when, Action: action}
	require.NoError(t, f.store.InsertTransaction(ctx, transaction))
	entry := &ledger.TransactionEntry{
		TransactionID: transaction.ID,
		AccountID:     accountID,
		AssetID:       f.sec.ID,
		Amount:        decimal.RequireFromString(amount),
	}
	require.NoError(t, f.store.InsertEntry(ctx, entry))
	return entry
}

// buy opens a lot for an acquisition, optionally with a cost basis in USD.
func (f *fixture) buy(t *testing.T, when ledger.Date, amount, basis string) *ledger.TaxLot {
	t.Helper()
	entry := f.post(t, when, ledger.ActionBuy, amount)
	opts := LotOptions{}
	if basis != "" {
		opts.CostBasis = decimal.NullDecimal{Decimal: decimal.RequireFromString(basis), Valid: true}
		opts.CostBasisAssetID = &f.usd.ID
	}
	lot, err := f.engine.OpenLot(context.Background(), f.store, entry, opts)
	require.NoError(t, err)
	return lot
}

func jan(day int) ledger.Date { return ledger.NewDate(2020, time.January, day) }

func TestTracks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checking := &ledger.Account{Name: "Checking", Kind: ledger.AccountBanking, CurrencyAssetID: &f.usd.ID}
	require.NoError(t, f.store.InsertAccount(ctx, checking))

	tracked, err := f.engine.Tracks(ctx, f.store, &ledger.TransactionEntry{AccountID: f.broker.ID, AssetID: f.sec.ID})
	require.NoError(t, err)
	assert.True(t, tracked)

	tracked, err = f.engine.Tracks(ctx, f.store, &ledger.TransactionEntry{AccountID: f.broker.ID, AssetID: f.usd.ID})
	require.NoError(t, err)
	assert.False(t, tracked, "cash in a brokerage account is not lot-tracked")

	tracked, err = f.engine.Tracks(ctx, f.store, &ledger.TransactionEntry{AccountID: checking.ID, AssetID: f.sec.ID})
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestOpenLotValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *ledger.ValidationError
	_, err := f.engine.OpenLot(ctx, f.store, &ledger.TransactionEntry{Amount: decimal.NewFromInt(5)}, LotOptions{})
	require.ErrorAs(t, err, &verr)

	entry := f.post(t, jan(1), ledger.ActionSell, "-5")
	_, err = f.engine.OpenLot(ctx, f.store, entry, LotOptions{})
	require.ErrorAs(t, err, &verr)
}

func TestConsumeFillsOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lot1 := f.buy(t, jan(1), "10", "")
	lot2 := f.buy(t, ledger.NewDate(2020, time.February, 1), "5", "")

	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-12")
	assignments, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	assert.Equal(t, lot1.ID, assignments[0].TaxLotID)
	assert.True(t, assignments[0].Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, lot2.ID, assignments[1].TaxLotID)
	assert.True(t, assignments[1].Amount.Equal(decimal.NewFromInt(2)))

	views, err := f.engine.Lots(ctx, f.store, f.broker.ID, f.sec.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, Closed, views[0].State())
	assert.True(t, views[0].Remaining.IsZero())
	assert.Equal(t, PartiallyConsumed, views[1].State())
	assert.True(t, views[1].Remaining.Equal(decimal.NewFromInt(3)))

	open, err := f.engine.Unsold(ctx, f.store, f.broker.ID, f.sec.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, lot2.ID, open[0].Lot.ID)
}

func TestConsumeSkipsLotsAcquiredAfterDisposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, ledger.NewDate(2020, time.May, 1), "5", "")

	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-3")
	_, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	var shortfall *ShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.True(t, shortfall.Covered.IsZero())
}

func TestConsumeShortfall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, jan(1), "15", "")

	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-20")
	_, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	var shortfall *ShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, sell.ID, shortfall.EntryID)
	assert.True(t, shortfall.Requested.Equal(decimal.NewFromInt(20)))
	assert.True(t, shortfall.Covered.Equal(decimal.NewFromInt(15)))
	assert.True(t, shortfall.Shortfall().Equal(decimal.NewFromInt(5)))
}

func TestConsumeHonorsPinnedAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lot1 := f.buy(t, jan(1), "10", "")
	lot2 := f.buy(t, ledger.NewDate(2020, time.February, 1), "10", "")

	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-5")
	pinned := &ledger.TaxLotAssignment{
		TaxLotID:         lot2.ID,
		ConsumingEntryID: sell.ID,
		Amount:           decimal.NewFromInt(3),
		Pinned:           true,
	}
	require.NoError(t, f.store.InsertAssignment(ctx, pinned))

	assignments, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	assert.Equal(t, lot2.ID, assignments[0].TaxLotID)
	assert.True(t, assignments[0].Pinned)
	assert.True(t, assignments[0].Amount.Equal(decimal.NewFromInt(3)))

	// The automatic remainder avoids the pinned lot even though it is FIFO
	// runner-up, leaving the user's choice intact.
	assert.Equal(t, lot1.ID, assignments[1].TaxLotID)
	assert.False(t, assignments[1].Pinned)
	assert.True(t, assignments[1].Amount.Equal(decimal.NewFromInt(2)))
}

func TestConsumeRejectsPinnedOverfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lot := f.buy(t, jan(1), "10", "")
	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-5")
	require.NoError(t, f.store.InsertAssignment(ctx, &ledger.TaxLotAssignment{
		TaxLotID:         lot.ID,
		ConsumingEntryID: sell.ID,
		Amount:           decimal.NewFromInt(6),
		Pinned:           true,
	}))

	_, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestConsumeIsRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, jan(1), "10", "")
	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-5")

	_, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)
	_, err = f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)

	// Rematching replaces unpinned assignments instead of stacking them.
	assignments, err := f.store.Assignments(ctx, "consuming_entry_id = ?", sell.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.True(t, assignments[0].Amount.Equal(decimal.NewFromInt(5)))
}

func TestLotOverridesApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.post(t, ledger.NewDate(2020, time.June, 1), ledger.ActionAdd, "10")
	lot, err := f.engine.OpenLot(ctx, f.store, entry, LotOptions{
		AcquiredDate: ledger.SomeDate(jan(1)),
		Amount:       decimal.NullDecimal{Decimal: decimal.NewFromInt(4), Valid: true},
	})
	require.NoError(t, err)

	remaining, err := f.engine.Remaining(ctx, f.store, lot.ID)
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(4)))

	views, err := f.engine.Lots(ctx, f.store, f.broker.ID, f.sec.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, jan(1), views[0].AcquiredDate)
	assert.True(t, views[0].Acquired.Equal(decimal.NewFromInt(4)))
}

func TestPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, jan(1), "10", "")
	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-5")
	assignments, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)
	require.Len(t, assignments, 1)

	require.NoError(t, f.engine.Pin(ctx, f.store, assignments[0].ID, true))
	got, err := f.store.GetAssignment(ctx, assignments[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)

	require.NoError(t, f.engine.Pin(ctx, f.store, assignments[0].ID, false))
	got, err = f.store.GetAssignment(ctx, assignments[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}
