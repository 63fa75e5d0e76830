// Package testutil provides common test fixtures and helpers for labbot tests.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"time"

	"github.com/BTreeMap/labbot/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Table IDs used by the fixture; they match the lab package defaults.
const (
	RegistryID = "registry"
	OrdersID   = "orders"
)

// Fixture phone numbers, without country code.
const (
	AdminPhone   = "65999990001"
	ClientPhone  = "65999990002"
	ClientPhone2 = "65999990003"
	UnknownPhone = "65999990009"
)

// Registered client names.
const (
	ClientName  = "MARIA SOUZA"
	ClientName2 = "JOAO LIMA"
)

// Location is the fixed time zone used by fixtures (UTC-3, no DST).
var Location = time.FixedZone("BRT", -3*60*60)

// Now is the fixed instant fixtures are built around: 10/03/2025 12:00 BRT.
var Now = time.Date(2025, time.March, 10, 12, 0, 0, 0, Location)

// Columns per sheet, in header order.
var (
	AdminColumns     = []string{"FONE_ADM", "NOME"}
	ClientColumns    = []string{"FONE", "NOME_CLI", "SEXO", "CRO"}
	ProductColumns   = []string{"PRODUTO", "VLR_CAT", "PRAZO"}
	ProspectColumns  = []string{"FONE_APR", "RESPOSTA", "DATA_REGISTRO"}
	PatientColumns   = []string{"NOME_PAC", "CLIENTE"}
	OrderColumns     = []string{"NR_PED", "STATUS", "CLIENTE", "PACIENTE", "DT_PED", "DT_PRAZO", "DT_ENTREG", "VLR_PED", "CUST_TERC", "PAGO", "OBS"}
	OrderLineColumns = []string{"NR_PED", "PRODUTO", "QTDE", "COR", "OBS", "VLR_COB", "VLR_CAT", "TOTAL_PROD"}
)

// NewLabStore returns a memory store holding the registry with admins,
// clients, products and patients, and an empty orders spreadsheet.
func NewLabStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.Seed(RegistryID, "ADM_BOT", AdminColumns,
		[]string{"(65) 99999-0001", "Carla"},
	)
	s.Seed(RegistryID, "CLIENTES", ClientColumns,
		[]string{"65 99999-0002", ClientName, "F", "1234"},
		[]string{"65999990003", ClientName2, "M", "5678"},
	)
	s.Seed(RegistryID, "PRODUTOS", ProductColumns,
		[]string{"Coroa Zircônia", "150,00", "7"},
		[]string{"Faceta", "200,00", "10"},
		[]string{"Provisório", "50,00", "3"},
	)
	s.Seed(RegistryID, "CLI_APR", ProspectColumns)
	s.Seed(RegistryID, "PACIENTES", PatientColumns,
		[]string{"Ana Paula", ClientName},
	)
	s.Seed(OrdersID, "PEDIDOS", OrderColumns)
	s.Seed(OrdersID, "PEDIDOS_ITENS", OrderLineColumns)
	return s
}

// SeedOrders replaces PEDIDOS and PEDIDOS_ITENS with the given rows, each in
// column order of OrderColumns / OrderLineColumns.
func SeedOrders(s *store.MemoryStore, orders [][]string, lines [][]string) {
	s.Seed(OrdersID, "PEDIDOS", OrderColumns, orders...)
	s.Seed(OrdersID, "PEDIDOS_ITENS", OrderLineColumns, lines...)
}

// DaysFromNow renders the date n days after Now as dd/mm/yyyy.
func DaysFromNow(n int) string {
	return Now.AddDate(0, 0, n).Format("02/01/2006")
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}
