package ledger

// Table descriptors for every persisted record type. These are the single
// source of truth for column order; the DDL in internal/database must agree.

var accountTable = &table[Account]{
	name:    "accounts",
	columns: []string{"name", "is_closed", "kind", "currency_asset_id"},
	bind: func(a *Account) []any {
		return []any{a.Name, a.IsClosed, a.Kind, a.CurrencyAssetID}
	},
	scan: func(a *Account) []any {
		return []any{&a.ID, &a.Name, &a.IsClosed, &a.Kind, &a.CurrencyAssetID}
	},
	id: func(a *Account) *int64 { return &a.ID },
}

var assetTable = &table[Asset]{
	name:    "assets",
	columns: []string{"name", "ticker", "kind", "symbol", "decimal_digits"},
	bind: func(a *Asset) []any {
		return []any{a.Name, a.Ticker, a.Kind, a.Symbol, a.DecimalDigits}
	},
	scan: func(a *Asset) []any {
		return []any{&a.ID, &a.Name, &a.Ticker, &a.Kind, &a.Symbol, &a.DecimalDigits}
	},
	id: func(a *Asset) *int64 { return &a.ID },
}

var transactionTable = &table[Transaction]{
	name:    "transactions",
	columns: []string{"tx_date", "action", "check_number", "payee", "memo", "related_asset_id"},
	bind: func(t *Transaction) []any {
		return []any{t.When, t.Action, t.CheckNumber, t.Payee, t.Memo, t.RelatedAssetID}
	},
	scan: func(t *Transaction) []any {
		return []any{&t.ID, &t.When, &t.Action, &t.CheckNumber, &t.Payee, &t.Memo, &t.RelatedAssetID}
	},
	id: func(t *Transaction) *int64 { return &t.ID },
}

var entryTable = &table[TransactionEntry]{
	name:    "transaction_entries",
	columns: []string{"transaction_id", "account_id", "asset_id", "amount", "cleared", "memo", "ofx_fit_id"},
	bind: func(e *TransactionEntry) []any {
		return []any{e.TransactionID, e.AccountID, e.AssetID, e.Amount, e.Cleared, e.Memo, e.OfxFitID}
	},
	scan: func(e *TransactionEntry) []any {
		return []any{&e.ID, &e.TransactionID, &e.AccountID, &e.AssetID, &e.Amount, &e.Cleared, &e.Memo, &e.OfxFitID}
	},
	id: func(e *TransactionEntry) *int64 { return &e.ID },
}

var taxLotTable = &table[TaxLot]{
	name:    "tax_lots",
	columns: []string{"creating_entry_id", "acquired_date", "amount", "cost_basis_amount", "cost_basis_asset_id"},
	bind: func(l *TaxLot) []any {
		return []any{l.CreatingEntryID, l.AcquiredDate, l.Amount, l.CostBasisAmount, l.CostBasisAssetID}
	},
	scan: func(l *TaxLot) []any {
		return []any{&l.ID, &l.CreatingEntryID, &l.AcquiredDate, &l.Amount, &l.CostBasisAmount, &l.CostBasisAssetID}
	},
	id: func(l *TaxLot) *int64 { return &l.ID },
}

var assignmentTable = &table[TaxLotAssignment]{
	name:    "tax_lot_assignments",
	columns: []string{"tax_lot_id", "consuming_entry_id", "amount", "pinned"},
	bind: func(a *TaxLotAssignment) []any {
		return []any{a.TaxLotID, a.ConsumingEntryID, a.Amount, a.Pinned}
	},
	scan: func(a *TaxLotAssignment) []any {
		return []any{&a.ID, &a.TaxLotID, &a.ConsumingEntryID, &a.Amount, &a.Pinned}
	},
	id: func(a *TaxLotAssignment) *int64 { return &a.ID },
}

var priceTable = &table[AssetPrice]{
	name:    "asset_prices",
	columns: []string{"asset_id", "reference_asset_id", "price_date", "price"},
	bind: func(p *AssetPrice) []any {
		return []any{p.AssetID, p.ReferenceAssetID, p.When, p.Price}
	},
	scan: func(p *AssetPrice) []any {
		return []any{&p.ID, &p.AssetID, &p.ReferenceAssetID, &p.When, &p.Price}
	},
	id: func(p *AssetPrice) *int64 { return &p.ID },
}
