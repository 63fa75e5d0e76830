package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// sqlTabular implements Store on top of database/sql. The SQLite and Postgres
// stores embed it and differ only in driver, migrations and dialect.
type sqlTabular struct {
	db           *sql.DB
	name         string
	bind         func(string) string
	insertColumn string
}

func (t *sqlTabular) columns(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, tableID, sheet string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		t.bind(`SELECT name FROM tabular_columns WHERE table_id = ? AND sheet = ? ORDER BY position`),
		tableID, sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s/%s: %w", tableID, sheet, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column rows: %w", err)
	}
	return cols, nil
}

// FetchRows returns the rows of a sheet in insertion order.
func (t *sqlTabular) FetchRows(ctx context.Context, tableID, sheet string) ([]Row, error) {
	cols, err := t.columns(ctx, t.db, tableID, sheet)
	if err != nil {
		slog.Error(t.name+" FetchRows columns failed", "error", err, "table", tableID, "sheet", sheet)
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx,
		t.bind(`SELECT data FROM tabular_rows WHERE table_id = ? AND sheet = ? ORDER BY id`),
		tableID, sheet)
	if err != nil {
		slog.Error(t.name+" FetchRows query failed", "error", err, "table", tableID, "sheet", sheet)
		return nil, fmt.Errorf("failed to query rows of %s/%s: %w", tableID, sheet, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m, err := decodeRowData(data)
		if err != nil {
			return nil, err
		}
		out = append(out, RowFromMap(cols, m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	slog.Debug(t.name+" FetchRows succeeded", "table", tableID, "sheet", sheet, "count", len(out))
	return out, nil
}

// AppendRow stores the row and extends the sheet header with unseen columns,
// both in one transaction.
func (t *sqlTabular) AppendRow(ctx context.Context, tableID, sheet string, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode row data: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cols, err := t.columns(ctx, tx, tableID, sheet)
	if err != nil {
		return err
	}
	for i, name := range missingColumns(cols, values) {
		if _, err := tx.ExecContext(ctx, t.bind(t.insertColumn), tableID, sheet, len(cols)+i, name); err != nil {
			return fmt.Errorf("failed to add column %q to %s/%s: %w", name, tableID, sheet, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		t.bind(`INSERT INTO tabular_rows (table_id, sheet, data) VALUES (?, ?, ?)`),
		tableID, sheet, string(data)); err != nil {
		slog.Error(t.name+" AppendRow insert failed", "error", err, "table", tableID, "sheet", sheet)
		return fmt.Errorf("failed to insert row into %s/%s: %w", tableID, sheet, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row: %w", err)
	}
	slog.Debug(t.name+" AppendRow succeeded", "table", tableID, "sheet", sheet)
	return nil
}

// DefineSheet registers a sheet header ahead of any row, so an empty sheet
// still reports its columns.
func (t *sqlTabular) DefineSheet(ctx context.Context, tableID, sheet string, columns []string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := t.columns(ctx, tx, tableID, sheet)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c] = true
	}
	pos := len(existing)
	for _, name := range columns {
		if name == "" || known[name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, t.bind(t.insertColumn), tableID, sheet, pos, name); err != nil {
			return fmt.Errorf("failed to add column %q to %s/%s: %w", name, tableID, sheet, err)
		}
		known[name] = true
		pos++
	}
	return tx.Commit()
}

// Close closes the database connection.
func (t *sqlTabular) Close() error {
	slog.Debug("Closing " + t.name + " database connection")
	err := t.db.Close()
	if err != nil {
		slog.Error("Failed to close "+t.name+" database", "error", err)
	}
	return err
}
