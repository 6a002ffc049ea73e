package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store operations are written against it so the same code runs standalone
// or inside a caller-owned transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// table describes how one record type maps onto its table: the table name,
// the column list (id excluded), and bind/scan functions over a record.
// Model types stay plain data holders; all mapping knowledge lives here.
type table[T any] struct {
	name    string
	columns []string
	bind    func(*T) []any // values in column order
	scan    func(*T) []any // destinations for id followed by columns
	id      func(*T) *int64
}

func (t *table[T]) selectClause() string {
	return "SELECT id, " + strings.Join(t.columns, ", ") + " FROM " + t.name
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// insertRow inserts rec and writes the assigned id back into it, so a caller
// can wire foreign keys to the record before its batch finishes. A record
// arriving with a nonzero id is a misuse of insert, not an upsert.
func insertRow[T any](ctx context.Context, q Querier, t *table[T], rec *T) error {
	if *t.id(rec) != 0 {
		return &ValidationError{Field: t.name + ".id", Reason: "insert requires an unsaved record (id must be zero)"}
	}
	query := "INSERT INTO " + t.name + " (" + strings.Join(t.columns, ", ") + ") VALUES (" + placeholders(len(t.columns)) + ")"
	res, err := q.ExecContext(ctx, query, t.bind(rec)...)
	if err != nil {
		return wrapDBErr("insert "+t.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: read id: %w", t.name, err)
	}
	*t.id(rec) = id
	return nil
}

func updateRow[T any](ctx context.Context, q Querier, t *table[T], rec *T) error {
	id := *t.id(rec)
	if id == 0 {
		return &ValidationError{Field: t.name + ".id", Reason: "update requires a saved record"}
	}
	var sets []string
	for _, c := range t.columns {
		sets = append(sets, c+" = ?")
	}
	query := "UPDATE " + t.name + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args := append(t.bind(rec), id)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErr("update "+t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s id=%d: %w", t.name, id, ErrNotFound)
	}
	return nil
}

func getRow[T any](ctx context.Context, q Querier, t *table[T], id int64) (*T, error) {
	row := q.QueryRowContext(ctx, t.selectClause()+" WHERE id = ?", id)
	var rec T
	if err := row.Scan(t.scan(&rec)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s id=%d: %w", t.name, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s id=%d: %w", t.name, id, err)
	}
	return &rec, nil
}

func deleteRow[T any](ctx context.Context, q Querier, t *table[T], id int64) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE id = ?", id)
	if err != nil {
		return wrapDBErr("delete "+t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s id=%d: %w", t.name, id, ErrNotFound)
	}
	return nil
}

// selectRows runs a filtered query over t. where is a SQL predicate
// ("account_id = ? AND cleared > 0"); empty means all rows.
func selectRows[T any](ctx context.Context, q Querier, t *table[T], where string, args ...any) ([]T, error) {
	query := t.selectClause()
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var rec T
		if err := rows.Scan(t.scan(&rec)...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return out, nil
}
