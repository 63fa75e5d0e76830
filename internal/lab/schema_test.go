package lab

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/store"
	"github.com/BTreeMap/labbot/internal/testutil"
)

func TestDefineSheetsOnEmptySQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "lab.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()

	l := newTestLab(st)
	if err := l.DefineSheets(ctx, st); err != nil {
		t.Fatalf("DefineSheets: %v", err)
	}
	// Declaring twice keeps the layout unchanged.
	if err := l.DefineSheets(ctx, st); err != nil {
		t.Fatalf("second DefineSheets: %v", err)
	}

	id, err := l.IdentifyProfile(ctx, "5565999990002")
	if err != nil {
		t.Fatalf("IdentifyProfile on empty registry: %v", err)
	}
	if id.Profile != models.ProfileUnknown {
		t.Errorf("profile = %s, want unknown", id.Profile)
	}

	n, err := l.NextOrderNumber(ctx)
	if err != nil || n != 1 {
		t.Errorf("NextOrderNumber = %d, %v; want 1", n, err)
	}

	if err := l.RegisterProspect(ctx, "65999990009", "Dra. Ana CRO 4321"); err != nil {
		t.Fatalf("RegisterProspect: %v", err)
	}
	rows, err := st.FetchRows(ctx, testutil.RegistryID, SheetProspects)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 1 || rows[0].Get("RESPOSTA") != "Dra. Ana CRO 4321" {
		t.Errorf("unexpected prospect rows: %+v", rows)
	}
	if cols := rows[0].Columns(); strings.Join(cols, ",") != "FONE_APR,RESPOSTA,DATA_REGISTRO" {
		t.Errorf("columns = %v", cols)
	}
}

func TestAdminNumbers(t *testing.T) {
	s := testutil.NewLabStore()
	s.Seed(testutil.RegistryID, SheetAdmins, testutil.AdminColumns,
		[]string{"(65) 99999-0001", "Carla"},
		[]string{"65999990001", "Carla de novo"},
		[]string{"", "Sem fone"},
		[]string{"65 98888-0000", "Rui"},
	)
	got, err := newTestLab(s).AdminNumbers(context.Background())
	if err != nil {
		t.Fatalf("AdminNumbers: %v", err)
	}
	want := "5565999990001,5565988880000"
	if strings.Join(got, ",") != want {
		t.Errorf("AdminNumbers = %v, want %s", got, want)
	}
}

func TestDailyDigest(t *testing.T) {
	s := testutil.NewLabStore()
	seedReports(s)
	got, err := newTestLab(s).DailyDigest(context.Background())
	if err != nil {
		t.Fatalf("DailyDigest: %v", err)
	}
	for _, want := range []string{"10/03/2025", "Atrasados: 1 pedido(s)", "Hoje: 1 pedido(s)", "Futuros: 1 pedido(s)"} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Voltar") {
		t.Errorf("digest should not carry menu options:\n%s", got)
	}
}
