package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/labbot/internal/models"
)

type memorySheet struct {
	columns []string
	rows    [][]string
}

// MemoryStore is an in-memory Store used in tests and for local dry runs.
// Sheets must be declared with Seed before they can be read.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]*memorySheet
	fail   map[string]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]*memorySheet),
		fail:   make(map[string]error),
	}
}

// Seed declares a sheet with its header and optional initial rows, replacing
// any existing sheet with the same name.
func (s *MemoryStore) Seed(tableID, sheet string, columns []string, rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[tableID] == nil {
		s.tables[tableID] = make(map[string]*memorySheet)
	}
	sh := &memorySheet{columns: append([]string(nil), columns...)}
	for _, r := range rows {
		sh.rows = append(sh.rows, append([]string(nil), r...))
	}
	s.tables[tableID][sheet] = sh
}

// SetValue overwrites one cell of an existing row (0-based data row index).
func (s *MemoryStore) SetValue(tableID, sheet string, row int, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheetLocked(tableID, sheet)
	if err != nil {
		return err
	}
	if row < 0 || row >= len(sh.rows) {
		return fmt.Errorf("row %d out of range for %s/%s", row, tableID, sheet)
	}
	for i, col := range sh.columns {
		if col == column {
			for len(sh.rows[row]) <= i {
				sh.rows[row] = append(sh.rows[row], "")
			}
			sh.rows[row][i] = value
			return nil
		}
	}
	return fmt.Errorf("column %q not found in %s/%s", column, tableID, sheet)
}

// FailWith makes every operation on sheet return err until cleared with a nil err.
func (s *MemoryStore) FailWith(tableID, sheet string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tableID + "/" + sheet
	if err == nil {
		delete(s.fail, key)
		return
	}
	s.fail[key] = err
}

// Len returns the number of data rows in a sheet, or -1 when it does not exist.
func (s *MemoryStore) Len(tableID, sheet string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, err := s.sheetLocked(tableID, sheet)
	if err != nil {
		return -1
	}
	return len(sh.rows)
}

func (s *MemoryStore) sheetLocked(tableID, sheet string) (*memorySheet, error) {
	t, ok := s.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTable, tableID)
	}
	sh, ok := t[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrUnknownSheet, tableID, sheet)
	}
	return sh, nil
}

// FetchRows returns a snapshot of the sheet's rows.
func (s *MemoryStore) FetchRows(ctx context.Context, tableID, sheet string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail[tableID+"/"+sheet]; err != nil {
		return nil, err
	}
	sh, err := s.sheetLocked(tableID, sheet)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(sh.rows))
	for _, cells := range sh.rows {
		rows = append(rows, NewRow(sh.columns, cells))
	}
	slog.Debug("MemoryStore.FetchRows", "table", tableID, "sheet", sheet, "count", len(rows))
	return rows, nil
}

// AppendRow appends a row, adding unseen columns to the end of the header.
func (s *MemoryStore) AppendRow(ctx context.Context, tableID, sheet string, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[tableID+"/"+sheet]; err != nil {
		return err
	}
	sh, err := s.sheetLocked(tableID, sheet)
	if err != nil {
		return err
	}

	sh.columns = append(sh.columns, missingColumns(sh.columns, values)...)

	cells := make([]string, len(sh.columns))
	for i, col := range sh.columns {
		cells[i] = values[col]
	}
	sh.rows = append(sh.rows, cells)
	slog.Debug("MemoryStore.AppendRow", "table", tableID, "sheet", sheet, "rows", len(sh.rows))
	return nil
}
