// Package store provides the tabular data backends for labbot.
//
// The lab keeps its registry and orders in spreadsheets. Every backend exposes
// the same two operations, reading all rows of a sheet and appending one row,
// so domain code never depends on where the rows live. Rows are always read
// fresh; nothing is cached here.
package store

import (
	"context"
	"strings"
)

// Store is the tabular data access contract consumed by the domain layer.
type Store interface {
	// FetchRows returns every data row of sheet in table tableID, in sheet order.
	// Column names come from the sheet's header row.
	FetchRows(ctx context.Context, tableID, sheet string) ([]Row, error)

	// AppendRow appends one row. Columns missing from values are left blank.
	AppendRow(ctx context.Context, tableID, sheet string, values map[string]string) error
}

// Row is one data row keyed by column name, keeping the header order.
type Row struct {
	columns []string
	values  map[string]string
}

// NewRow builds a row from a header and the cell values in header order.
// Missing trailing cells are treated as blank.
func NewRow(columns []string, cells []string) Row {
	values := make(map[string]string, len(columns))
	for i, col := range columns {
		if col == "" {
			continue
		}
		if i < len(cells) {
			values[col] = cells[i]
		} else {
			values[col] = ""
		}
	}
	return Row{columns: append([]string(nil), columns...), values: values}
}

// RowFromMap builds a row with the given header from a column->value map.
func RowFromMap(columns []string, m map[string]string) Row {
	cells := make([]string, len(columns))
	for i, col := range columns {
		cells[i] = m[col]
	}
	return NewRow(columns, cells)
}

// Get returns the trimmed value of column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.values[column])
}

// Raw returns the untrimmed value of column.
func (r Row) Raw(column string) string {
	return r.values[column]
}

// Has reports whether the row's header includes column.
func (r Row) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Columns returns the header in sheet order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Map returns a copy of the row as a column->value map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// Opts holds configuration options for the tabular backends.
type Opts struct {
	DSN             string // SQLite path or Postgres connection string
	CredentialsJSON []byte // Google service account key
	CredentialsFile string // path to a Google service account key
}

// Option defines a configuration option for a backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithCredentialsJSON sets the Google service account key contents.
func WithCredentialsJSON(b []byte) Option {
	return func(o *Opts) {
		o.CredentialsJSON = b
	}
}

// WithCredentialsFile sets the path of a Google service account key.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// DetectDSNType returns "postgres" for Postgres connection strings and
// "sqlite3" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
