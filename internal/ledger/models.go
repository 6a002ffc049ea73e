package ledger

import (
	"github.com/shopspring/decimal"
)

// AccountKind distinguishes ordinary cash accounts, brokerage accounts and
// zero-ledger category accounts (the double-entry counterweight for income
// and expense postings).
type AccountKind int

const (
	AccountBanking AccountKind = iota
	AccountInvesting
	AccountCategory
)

func (k AccountKind) String() string {
	switch k {
	case AccountBanking:
		return "banking"
	case AccountInvesting:
		return "investing"
	case AccountCategory:
		return "category"
	}
	return "unknown"
}

// AssetKind distinguishes currencies from tradable securities.
type AssetKind int

const (
	AssetCurrency AssetKind = iota
	AssetSecurity
)

func (k AssetKind) String() string {
	switch k {
	case AssetCurrency:
		return "currency"
	case AssetSecurity:
		return "security"
	}
	return "unknown"
}

// Action describes what a transaction did, for display and for deciding
// whether tax-lot bookkeeping applies.
type Action int

const (
	ActionDeposit Action = iota
	ActionWithdraw
	ActionTransfer
	ActionBuy
	ActionSell
	ActionDividend
	ActionInterest
	ActionAdd    // securities received in kind
	ActionRemove // securities delivered out in kind
	ActionFee
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionTransfer:
		return "transfer"
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionDividend:
		return "dividend"
	case ActionInterest:
		return "interest"
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionFee:
		return "fee"
	}
	return "unknown"
}

// Acquires reports whether the action brings security quantity into an
// account, which is what opens a tax lot.
func (a Action) Acquires() bool {
	switch a {
	case ActionBuy, ActionAdd, ActionDividend, ActionTransfer:
		return true
	}
	return false
}

// Disposes reports whether the action takes security quantity out of an
// account, which is what consumes tax lots.
func (a Action) Disposes() bool {
	switch a {
	case ActionSell, ActionRemove, ActionTransfer:
		return true
	}
	return false
}

// ClearedState is the reconciliation status of one entry against a bank
// statement.
type ClearedState int

const (
	ClearedNone ClearedState = iota
	Cleared
	Reconciled
)

func (c ClearedState) String() string {
	switch c {
	case ClearedNone:
		return "none"
	case Cleared:
		return "cleared"
	case Reconciled:
		return "reconciled"
	}
	return "unknown"
}

// Account is one ledger account. Banking accounts are denominated in exactly
// one currency asset; category accounts hold the offsetting legs of income
// and expense transactions and always sum to the negative of real activity.
type Account struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	IsClosed        bool        `json:"is_closed"`
	Kind            AccountKind `json:"kind"`
	CurrencyAssetID *int64      `json:"currency_asset_id,omitempty"`
}

// Asset is a currency or security that entries can be denominated in.
type Asset struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Ticker        *string   `json:"ticker,omitempty"`
	Kind          AssetKind `json:"kind"`
	Symbol        *string   `json:"symbol,omitempty"` // currency display symbol, e.g. "$"
	DecimalDigits *int64    `json:"decimal_digits,omitempty"`
}

// Transaction groups one or more entries that happened together. When is
// date-only; any time-of-day from an import source is discarded.
type Transaction struct {
	ID             int64   `json:"id"`
	When           Date    `json:"when"`
	Action         Action  `json:"action"`
	CheckNumber    *int64  `json:"check_number,omitempty"`
	Payee          *string `json:"payee,omitempty"`
	Memo           *string `json:"memo,omitempty"`
	RelatedAssetID *int64  `json:"related_asset_id,omitempty"` // e.g. the security a cash dividend came from
}

// TransactionEntry is one leg of a transaction: a signed amount of one asset
// posted to one account. A transfer is two entries of opposite sign, a split
// three or more.
type TransactionEntry struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	AccountID     int64           `json:"account_id"`
	AssetID       int64           `json:"asset_id"`
	Amount        decimal.Decimal `json:"amount"`
	Cleared       ClearedState    `json:"cleared"`
	Memo          *string         `json:"memo,omitempty"`
	OfxFitID      *string         `json:"ofx_fit_id,omitempty"` // bank-assigned id used for duplicate detection on re-import
}

// TaxLot records one discrete acquisition of a security quantity. The
// acquired amount and date default to the creating entry's, and can be
// overridden when a lot is split or carried across an account transfer.
type TaxLot struct {
	ID               int64               `json:"id"`
	CreatingEntryID  int64               `json:"creating_entry_id"`
	AcquiredDate     NullDate            `json:"acquired_date"`      // override; unset means "use the entry's transaction date"
	Amount           decimal.NullDecimal `json:"amount"`             // override; unset means "use the entry amount"
	CostBasisAmount  decimal.NullDecimal `json:"cost_basis_amount"`
	CostBasisAssetID *int64              `json:"cost_basis_asset_id,omitempty"`
}

// TaxLotAssignment consumes part or all of a lot on behalf of a disposing
// entry. Pinned assignments were placed by hand and are never rewritten by
// automatic matching.
type TaxLotAssignment struct {
	ID               int64           `json:"id"`
	TaxLotID         int64           `json:"tax_lot_id"`
	ConsumingEntryID int64           `json:"consuming_entry_id"`
	Amount           decimal.Decimal `json:"amount"`
	Pinned           bool            `json:"pinned"`
}

// AssetPrice is a point-in-time exchange rate from one asset into a
// reference asset. The hot query is "latest price at or before a date".
type AssetPrice struct {
	ID               int64           `json:"id"`
	AssetID          int64           `json:"asset_id"`
	ReferenceAssetID int64           `json:"reference_asset_id"`
	When             Date            `json:"when"`
	Price            decimal.Decimal `json:"price"`
}

// Configuration is the store's singleton preferences row.
type Configuration struct {
	ID                  int64  `json:"id"` // always 1
	DisplayAssetID      *int64 `json:"display_asset_id,omitempty"`
	CommissionAccountID *int64 `json:"commission_account_id,omitempty"`
}
