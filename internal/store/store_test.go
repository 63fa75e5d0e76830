package store

import (
	"context"
	"errors"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/BTreeMap/labbot/internal/models"
)

func TestRowGetTrimsAndDefaults(t *testing.T) {
	r := NewRow([]string{"NOME", "CRO", "", "OBS"}, []string{"  Maria ", "123", "ignored"})
	if got := r.Get("NOME"); got != "Maria" {
		t.Errorf("Get(NOME) = %q, want %q", got, "Maria")
	}
	if got := r.Raw("NOME"); got != "  Maria " {
		t.Errorf("Raw(NOME) = %q", got)
	}
	if !r.Has("OBS") || r.Get("OBS") != "" {
		t.Errorf("expected OBS column present and blank")
	}
	if r.Has("MISSING") {
		t.Errorf("expected MISSING column absent")
	}
	if len(r.Columns()) != 4 {
		t.Errorf("Columns() length = %d, want 4", len(r.Columns()))
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":       "postgres",
		"postgresql://localhost/db":         "postgres",
		"host=localhost dbname=lab":         "postgres",
		"/var/lib/labbot/data.db":           "sqlite3",
		"file:data.db?_foreign_keys=on":     "sqlite3",
		"  POSTGRES://upper@localhost/db  ": "postgres",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRebindPostgres(t *testing.T) {
	got := rebindPostgres("SELECT a FROM t WHERE x = ? AND y = ?")
	want := "SELECT a FROM t WHERE x = $1 AND y = $2"
	if got != want {
		t.Errorf("rebindPostgres = %q, want %q", got, want)
	}
}

func TestMemoryStoreFetchAndAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("orders", "PEDIDOS", []string{"NUM_PED", "STATUS"}, []string{"1", "Entregue"})

	if err := s.AppendRow(ctx, "orders", "PEDIDOS", map[string]string{"NUM_PED": "2", "OBS": "urgente"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := s.FetchRows(ctx, "orders", "PEDIDOS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Get("NUM_PED") != "2" || rows[1].Get("OBS") != "urgente" || rows[1].Get("STATUS") != "" {
		t.Errorf("unexpected appended row: %v", rows[1].Map())
	}
	if rows[0].Get("OBS") != "" {
		t.Errorf("expected earlier row to read blank for new column")
	}
}

func TestMemoryStoreUnknownSheet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.FetchRows(ctx, "nope", "X"); !errors.Is(err, models.ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
	s.Seed("reg", "CLIENTES", []string{"NOME_CLI"})
	if _, err := s.FetchRows(ctx, "reg", "X"); !errors.Is(err, models.ErrUnknownSheet) {
		t.Errorf("expected ErrUnknownSheet, got %v", err)
	}
	if err := s.AppendRow(ctx, "reg", "X", map[string]string{"A": "1"}); !errors.Is(err, models.ErrUnknownSheet) {
		t.Errorf("expected ErrUnknownSheet on append, got %v", err)
	}
}

func TestMemoryStoreFailWith(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("reg", "CLIENTES", []string{"NOME_CLI"}, []string{"Ana"})
	boom := errors.New("quota exceeded")
	s.FailWith("reg", "CLIENTES", boom)
	if _, err := s.FetchRows(ctx, "reg", "CLIENTES"); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	s.FailWith("reg", "CLIENTES", nil)
	if _, err := s.FetchRows(ctx, "reg", "CLIENTES"); err != nil {
		t.Errorf("expected success after clearing failure, got %v", err)
	}
}

func TestMemoryStoreSetValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("reg", "PRODUTOS", []string{"PRODUTO", "VLR_PROD"}, []string{"Coroa", "R$ 150,00"})
	if err := s.SetValue("reg", "PRODUTOS", 0, "VLR_PROD", "R$ 180,00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, _ := s.FetchRows(ctx, "reg", "PRODUTOS")
	if rows[0].Get("VLR_PROD") != "R$ 180,00" {
		t.Errorf("SetValue not applied: %v", rows[0].Map())
	}
	if err := s.SetValue("reg", "PRODUTOS", 3, "VLR_PROD", "x"); err == nil {
		t.Errorf("expected out of range error")
	}
	if err := s.SetValue("reg", "PRODUTOS", 0, "NOPE", "x"); err == nil {
		t.Errorf("expected unknown column error")
	}
}

func exerciseSQLStore(t *testing.T, s interface {
	Store
	DefineSheet(ctx context.Context, tableID, sheet string, columns []string) error
}, tableID string) {
	t.Helper()
	ctx := context.Background()

	if err := s.DefineSheet(ctx, tableID, "PEDIDOS", []string{"NUM_PED", "STATUS", "CLIENTE"}); err != nil {
		t.Fatalf("DefineSheet: %v", err)
	}
	rows, err := s.FetchRows(ctx, tableID, "PEDIDOS")
	if err != nil {
		t.Fatalf("FetchRows on empty sheet: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty sheet, got %d rows", len(rows))
	}

	if err := s.AppendRow(ctx, tableID, "PEDIDOS", map[string]string{"NUM_PED": "1", "STATUS": "Pedido Registrado"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	if err := s.AppendRow(ctx, tableID, "PEDIDOS", map[string]string{"NUM_PED": "2", "OBS": "sem pressa"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}

	rows, err = s.FetchRows(ctx, tableID, "PEDIDOS")
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	cols := rows[0].Columns()
	want := []string{"NUM_PED", "STATUS", "CLIENTE", "OBS"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
	}
	if rows[0].Get("NUM_PED") != "1" || rows[0].Get("STATUS") != "Pedido Registrado" {
		t.Errorf("unexpected first row: %v", rows[0].Map())
	}
	if rows[1].Get("OBS") != "sem pressa" || rows[1].Get("STATUS") != "" {
		t.Errorf("unexpected second row: %v", rows[1].Map())
	}
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "labbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	exerciseSQLStore(t, s, "orders")
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	const tableID = "labbot-store-test"
	s.db.Exec("DELETE FROM tabular_rows WHERE table_id = $1", tableID)
	s.db.Exec("DELETE FROM tabular_columns WHERE table_id = $1", tableID)
	exerciseSQLStore(t, s, tableID)
}

func TestSheetsStoreRequiresCredentials(t *testing.T) {
	if _, err := NewSheetsStore(context.Background()); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("PEDIDOS_ITENS"); got != "'PEDIDOS_ITENS'" {
		t.Errorf("quoteSheet = %q", got)
	}
	if got := quoteSheet("it's"); got != "'it''s'" {
		t.Errorf("quoteSheet = %q", got)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
