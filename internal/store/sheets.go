package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/BTreeMap/labbot/internal/models"
)

// Sheets API value options used when appending rows.
const (
	sheetsValueInput  = "USER_ENTERED"
	sheetsInsertData  = "INSERT_ROWS"
	sheetsRenderValue = "FORMATTED_VALUE"
)

// SheetsStore reads and appends rows in Google Sheets spreadsheets. The table
// ID is the spreadsheet ID and the first row of every sheet is its header.
type SheetsStore struct {
	svc *sheets.Service
}

// Compile-time check that SheetsStore implements Store.
var _ Store = (*SheetsStore)(nil)

// NewSheetsStore authenticates with a service account key, taken from
// WithCredentialsJSON or WithCredentialsFile.
func NewSheetsStore(ctx context.Context, opts ...Option) (*SheetsStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SheetsStore.NewSheetsStore: creating sheets client",
		"credentials_json_set", len(cfg.CredentialsJSON) > 0, "credentials_file", cfg.CredentialsFile)

	clientOpts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case len(cfg.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("google credentials not set")
	}

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("SheetsStore.NewSheetsStore: failed to create service", "error", err)
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsStore{svc: svc}, nil
}

// quoteSheet renders a sheet name as an A1 range prefix.
func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// mapSheetsError turns a bad-range response into ErrUnknownSheet.
func mapSheetsError(err error, tableID, sheet string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", models.ErrUnknownTable, tableID, err)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s/%s: %v", models.ErrUnknownSheet, tableID, sheet, err)
		}
	}
	return fmt.Errorf("sheets request for %s/%s failed: %w", tableID, sheet, err)
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (s *SheetsStore) header(ctx context.Context, tableID, sheet string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(tableID, quoteSheet(sheet)+"!1:1").
		ValueRenderOption(sheetsRenderValue).Context(ctx).Do()
	if err != nil {
		return nil, mapSheetsError(err, tableID, sheet)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	cols := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		cols[i] = strings.TrimSpace(cellString(v))
	}
	return cols, nil
}

// FetchRows reads the whole sheet with formatted values, so dates and
// currency come back the way the lab types them.
func (s *SheetsStore) FetchRows(ctx context.Context, tableID, sheet string) ([]Row, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(tableID, quoteSheet(sheet)).
		ValueRenderOption(sheetsRenderValue).Context(ctx).Do()
	if err != nil {
		slog.Error("SheetsStore.FetchRows failed", "error", err, "table", tableID, "sheet", sheet)
		return nil, mapSheetsError(err, tableID, sheet)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}

	cols := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		cols[i] = strings.TrimSpace(cellString(v))
	}
	rows := make([]Row, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		cells := make([]string, len(raw))
		for i, v := range raw {
			cells[i] = cellString(v)
		}
		rows = append(rows, NewRow(cols, cells))
	}
	slog.Debug("SheetsStore.FetchRows succeeded", "table", tableID, "sheet", sheet, "count", len(rows))
	return rows, nil
}

// AppendRow writes values in header order. Keys that match no header column
// are dropped with a warning since the sheet layout is owned by the lab.
func (s *SheetsStore) AppendRow(ctx context.Context, tableID, sheet string, values map[string]string) error {
	cols, err := s.header(ctx, tableID, sheet)
	if err != nil {
		slog.Error("SheetsStore.AppendRow header read failed", "error", err, "table", tableID, "sheet", sheet)
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: %s/%s has no header row", models.ErrUnknownSheet, tableID, sheet)
	}

	cells := make([]interface{}, len(cols))
	used := make(map[string]bool, len(values))
	for i, col := range cols {
		v, ok := values[col]
		if ok {
			used[col] = true
		}
		cells[i] = v
	}
	for k := range values {
		if !used[k] {
			slog.Warn("SheetsStore.AppendRow: dropping value for unknown column", "table", tableID, "sheet", sheet, "column", k)
		}
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{cells}}
	_, err = s.svc.Spreadsheets.Values.Append(tableID, quoteSheet(sheet), vr).
		ValueInputOption(sheetsValueInput).InsertDataOption(sheetsInsertData).Context(ctx).Do()
	if err != nil {
		slog.Error("SheetsStore.AppendRow failed", "error", err, "table", tableID, "sheet", sheet)
		return mapSheetsError(err, tableID, sheet)
	}
	slog.Debug("SheetsStore.AppendRow succeeded", "table", tableID, "sheet", sheet)
	return nil
}
