package taxlot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta-app/moneta/internal/ledger"
)

func TestAllocateBasisProportional(t *testing.T) {
	view := &LotView{
		Acquired:  decimal.NewFromInt(10),
		CostBasis: decimal.NullDecimal{Decimal: decimal.RequireFromString("100.00"), Valid: true},
	}
	assignments := []ledger.TaxLotAssignment{
		{ID: 1, Amount: decimal.NewFromInt(4)},
		{ID: 2, Amount: decimal.NewFromInt(2)},
	}

	shares := AllocateBasis(view, assignments)
	require.Len(t, shares, 2)
	require.True(t, shares[0].Valid)
	assert.True(t, shares[0].Decimal.Equal(decimal.NewFromInt(40)), "got %s", shares[0].Decimal)
	require.True(t, shares[1].Valid)
	assert.True(t, shares[1].Decimal.Equal(decimal.NewFromInt(20)), "got %s", shares[1].Decimal)
}

func TestAllocateBasisClosingSliceGetsExactRemainder(t *testing.T) {
	// Thirds do not divide evenly; the closing slice absorbs the rounding so
	// the pieces reassemble to the original basis exactly.
	view := &LotView{
		Acquired:  decimal.NewFromInt(3),
		CostBasis: decimal.NullDecimal{Decimal: decimal.RequireFromString("10.00"), Valid: true},
	}
	assignments := []ledger.TaxLotAssignment{
		{ID: 1, Amount: decimal.NewFromInt(1)},
		{ID: 2, Amount: decimal.NewFromInt(1)},
		{ID: 3, Amount: decimal.NewFromInt(1)},
	}

	shares := AllocateBasis(view, assignments)
	total := decimal.Zero
	for _, s := range shares {
		require.True(t, s.Valid)
		total = total.Add(s.Decimal)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("10.00")), "slices sum to %s", total)
}

func TestAllocateBasisWithoutBasis(t *testing.T) {
	view := &LotView{Acquired: decimal.NewFromInt(10)}
	shares := AllocateBasis(view, []ledger.TaxLotAssignment{{ID: 1, Amount: decimal.NewFromInt(4)}})
	require.Len(t, shares, 1)
	assert.False(t, shares[0].Valid)
}

func TestBasisOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, jan(1), "10", "100.00")
	sell := f.post(t, ledger.NewDate(2020, time.March, 1), ledger.ActionSell, "-4")
	assignments, err := f.engine.Consume(ctx, f.store, sell, ledger.NewDate(2020, time.March, 1))
	require.NoError(t, err)
	require.Len(t, assignments, 1)

	basis, err := f.engine.BasisOf(ctx, f.store, assignments[0].ID)
	require.NoError(t, err)
	require.True(t, basis.Valid)
	assert.True(t, basis.Decimal.Equal(decimal.NewFromInt(40)), "got %s", basis.Decimal)
}

func TestRealized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.buy(t, jan(1), "10", "100.00")

	shortSell := f.post(t, ledger.NewDate(2020, time.December, 1), ledger.ActionSell, "-2")
	_, err := f.engine.Consume(ctx, f.store, shortSell, ledger.NewDate(2020, time.December, 1))
	require.NoError(t, err)

	longSell := f.post(t, ledger.NewDate(2021, time.June, 1), ledger.ActionSell, "-4")
	_, err = f.engine.Consume(ctx, f.store, longSell, ledger.NewDate(2021, time.June, 1))
	require.NoError(t, err)

	realized, err := f.engine.Realized(ctx, f.store, f.broker.ID)
	require.NoError(t, err)
	require.Len(t, realized, 2)

	// Ordered by disposal date.
	first := realized[0]
	assert.Equal(t, ledger.NewDate(2020, time.December, 1), first.DisposedDate)
	assert.Equal(t, jan(1), first.AcquiredDate)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(2)))
	require.True(t, first.Basis.Valid)
	assert.True(t, first.Basis.Decimal.Equal(decimal.NewFromInt(20)), "got %s", first.Basis.Decimal)
	assert.False(t, first.LongTerm)

	second := realized[1]
	assert.Equal(t, ledger.NewDate(2021, time.June, 1), second.DisposedDate)
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(4)))
	require.True(t, second.Basis.Valid)
	assert.True(t, second.Basis.Decimal.Equal(decimal.NewFromInt(40)), "got %s", second.Basis.Decimal)
	assert.True(t, second.LongTerm)
}
