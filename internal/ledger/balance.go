package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RunningLine is one entry of an account register together with the balance
// after applying it. Lines are ordered by transaction date, ties broken by
// insertion order, so the prefix sums are stable across queries.
type RunningLine struct {
	Entry        TransactionEntry
	When         Date
	BalanceAfter decimal.Decimal
}

// RunningBalance returns the register of an account with per-asset prefix
// sums. Accounts holding several assets (a brokerage account with cash and
// securities) get one running figure per asset.
func (o *ops) RunningBalance(ctx context.Context, accountID int64) ([]RunningLine, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT e.id, e.transaction_id, e.account_id, e.asset_id, e.amount,
		       e.cleared, e.memo, e.ofx_fit_id, t.tx_date
		FROM transaction_entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = ?
		ORDER BY t.tx_date, e.transaction_id, e.id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query register: %w", err)
	}
	defer rows.Close()

	running := make(map[int64]decimal.Decimal)
	var lines []RunningLine
	for rows.Next() {
		var line RunningLine
		e := &line.Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.AssetID, &e.Amount,
			&e.Cleared, &e.Memo, &e.OfxFitID, &line.When); err != nil {
			return nil, fmt.Errorf("scan register line: %w", err)
		}
		running[e.AssetID] = running[e.AssetID].Add(e.Amount)
		line.BalanceAfter = running[e.AssetID]
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate register: %w", err)
	}
	return lines, nil
}

// AccountBalances returns the signed sum of an account's entries per asset,
// counting only transactions dated at or before the cutoff when one is set.
// Sums are exact decimals; ordering of the underlying rows cannot change the
// result.
func (o *ops) AccountBalances(ctx context.Context, accountID int64, asOf NullDate) (map[int64]decimal.Decimal, error) {
	query := `
		SELECT e.asset_id, e.amount
		FROM transaction_entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = ?
	`
	args := []any{accountID}
	if asOf.Valid {
		query += " AND t.tx_date <= ?"
		args = append(args, asOf.Date)
	}
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var assetID int64
		var amount decimal.Decimal
		if err := rows.Scan(&assetID, &amount); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances[assetID] = balances[assetID].Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return balances, nil
}

// PriceAsOf returns the most recent price converting asset into reference at
// or before the cutoff (latest overall when no cutoff). ok is false when no
// price has ever been recorded for the pair.
func (o *ops) PriceAsOf(ctx context.Context, assetID, referenceAssetID int64, asOf NullDate) (decimal.Decimal, bool, error) {
	query := `
		SELECT price FROM asset_prices
		WHERE asset_id = ? AND reference_asset_id = ?
	`
	args := []any{assetID, referenceAssetID}
	if asOf.Valid {
		query += " AND price_date <= ?"
		args = append(args, asOf.Date)
	}
	query += " ORDER BY price_date DESC LIMIT 1"

	var price decimal.Decimal
	err := o.q.QueryRowContext(ctx, query, args...).Scan(&price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("query price: %w", err)
	}
	return price, true, nil
}

// NetWorth sums the balances of all open banking and investing accounts as of
// the cutoff date, converted into the configured display asset. Entries dated
// strictly after the cutoff are excluded; the cutoff day itself counts in
// full, whatever time-of-day its transactions carried on import.
//
// Assets with no recorded price against the display asset are taken at par.
// A single-currency ledger never records prices, and inventing a zero value
// for an unpriced balance would be worse than showing it unconverted.
func (o *ops) NetWorth(ctx context.Context, asOf NullDate) (decimal.Decimal, error) {
	cfg, err := o.GetConfiguration(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var displayAsset int64
	if cfg.DisplayAssetID != nil {
		displayAsset = *cfg.DisplayAssetID
	}

	accounts, err := o.Accounts(ctx, "kind != ? AND is_closed = 0", AccountCategory)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, account := range accounts {
		balances, err := o.AccountBalances(ctx, account.ID, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		for assetID, balance := range balances {
			if balance.IsZero() || assetID == displayAsset || displayAsset == 0 {
				total = total.Add(balance)
				continue
			}
			price, ok, err := o.PriceAsOf(ctx, assetID, displayAsset, asOf)
			if err != nil {
				return decimal.Zero, err
			}
			if !ok {
				o.log.Debug().Int64("asset_id", assetID).Msg("no price for asset, counting at par")
				total = total.Add(balance)
				continue
			}
			total = total.Add(balance.Mul(price))
		}
	}
	return total, nil
}
