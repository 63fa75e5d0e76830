package lab

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/store"
	"github.com/BTreeMap/labbot/internal/testutil"
)

func newTestLab(st store.Store) *Lab {
	return New(st,
		WithLocation(testutil.Location),
		WithProspectLocation(testutil.Location),
		WithNow(func() time.Time { return testutil.Now }),
	)
}

func orderRow(num, status, client, patient, deadline, delivered, value, outsourcing, paid, note string) []string {
	return []string{num, status, client, patient, testutil.DaysFromNow(-10), deadline, delivered, value, outsourcing, paid, note}
}

// seedReports loads a mix of pending, delivered, paid and unregistered orders.
func seedReports(s *store.MemoryStore) {
	testutil.SeedOrders(s,
		[][]string{
			orderRow("1", "Em produção", testutil.ClientName, "Ana", testutil.DaysFromNow(-1), "", "R$ 100,00", "R$ 20,00", "", ""),
			orderRow("2", "Em produção", testutil.ClientName, "Bia", testutil.DaysFromNow(0), "", "R$ 200,00", "", "", ""),
			orderRow("3", "Prova", testutil.ClientName2, "Caio", testutil.DaysFromNow(5), "", "R$ 300,00", "", "", "urgente"),
			orderRow("4", "Entregue", testutil.ClientName2, "Duda", testutil.DaysFromNow(-10), testutil.DaysFromNow(-4), "R$ 400,00", "", "", ""),
			orderRow("5", "Entregue", testutil.ClientName, "Eva", testutil.DaysFromNow(-10), testutil.DaysFromNow(-2), "R$ 50,00", "", "sim", ""),
			orderRow("6", "Em produção", "FULANO", "Gil", "", "", "R$ 10,00", "", "", ""),
		},
		[][]string{
			{"1", "Coroa Zircônia", "2", "A2", "", "150,00", "150,00", "R$ 300,00"},
			{"2", "Faceta", "1", "", "", "200,00", "200,00", "R$ 200,00"},
		},
	)
}

func TestNextOrderNumber(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	l := newTestLab(s)

	n, err := l.NextOrderNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("NextOrderNumber on empty sheet = %d, want 1", n)
	}

	testutil.SeedOrders(s, [][]string{
		orderRow("3", "", "", "", "", "", "", "", "", ""),
		orderRow("1", "", "", "", "", "", "", "", "", ""),
		orderRow("7", "", "", "", "", "", "", "", "", ""),
		orderRow("abc", "", "", "", "", "", "", "", "", ""),
	}, nil)
	n, err = l.NextOrderNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 8 {
		t.Errorf("NextOrderNumber on [3,1,7,abc] = %d, want 8", n)
	}
}

func TestValidateNameAndLicense(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Maria Silva 12345", true},
		{"Jo 12", false},
		{"OnlyOneWord", false},
		{"Joao 123", true},
		{"Jo 12345", false},
		{"Maria Silva 12a", false},
		{"  Maria   Silva   999  ", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidateNameAndLicense(tt.in); got != tt.want {
			t.Errorf("ValidateNameAndLicense(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIdentifyProfile(t *testing.T) {
	ctx := context.Background()
	l := newTestLab(testutil.NewLabStore())

	tests := []struct {
		sender      string
		profile     models.Profile
		displayName string
		clientName  string
	}{
		{"5565999990001@s.whatsapp.net", models.ProfileAdmin, "Carla", ""},
		{"+55 (65) 99999-0002", models.ProfileClient, "Dra. " + testutil.ClientName, testutil.ClientName},
		{"65999990003", models.ProfileClient, "Dr. " + testutil.ClientName2, testutil.ClientName2},
		{"5565999990009:3@s.whatsapp.net", models.ProfileUnknown, "", ""},
	}
	for _, tt := range tests {
		id, err := l.IdentifyProfile(ctx, tt.sender)
		if err != nil {
			t.Fatalf("IdentifyProfile(%q): %v", tt.sender, err)
		}
		if id.Profile != tt.profile || id.DisplayName != tt.displayName || id.ClientName != tt.clientName {
			t.Errorf("IdentifyProfile(%q) = %+v", tt.sender, id)
		}
	}
}

func TestIdentifyProfileStoreFailure(t *testing.T) {
	s := testutil.NewLabStore()
	boom := errors.New("sheets unavailable")
	s.FailWith(testutil.RegistryID, SheetAdmins, boom)
	l := newTestLab(s)
	if _, err := l.IdentifyProfile(context.Background(), "5565999990002"); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestResolveCatalogPrice(t *testing.T) {
	ctx := context.Background()
	l := newTestLab(testutil.NewLabStore())

	price, err := l.ResolveCatalogPrice(ctx, "  coroa zircônia ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != "150,00" {
		t.Errorf("price = %q, want 150,00", price)
	}
	price, err = l.ResolveCatalogPrice(ctx, "Ponte")
	if err != nil {
		t.Fatalf("lookup miss should not be an error: %v", err)
	}
	if price != "" {
		t.Errorf("missing product price = %q, want empty", price)
	}
}

func TestSaveOrderUsesCatalogAtSaveTime(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	l := newTestLab(s)

	draft := models.OrderDraft{
		PatientName: "Ana Paula",
		Items: []models.OrderItem{
			{Product: "Coroa Zircônia", Quantity: 2, Color: "A2", CatalogPrice: "150,00"},
			{Product: "Faceta", Quantity: 1, Color: "B1", Note: "borda fina", CatalogPrice: "200,00"},
		},
	}
	if err := s.SetValue(testutil.RegistryID, SheetProducts, 0, "VLR_CAT", "180,00"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	n, err := l.SaveOrder(ctx, testutil.ClientName, draft)
	if err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if n != 1 {
		t.Errorf("order number = %d, want 1", n)
	}

	headers, _ := s.FetchRows(ctx, testutil.OrdersID, SheetOrders)
	if len(headers) != 1 {
		t.Fatalf("expected 1 header row, got %d", len(headers))
	}
	h := headers[0]
	if h.Get("NR_PED") != "1" || h.Get("STATUS") != models.OrderStatusRegistered ||
		h.Get("CLIENTE") != testutil.ClientName || h.Get("PACIENTE") != "Ana Paula" || h.Get("DT_PED") != "10/03/2025" {
		t.Errorf("unexpected header row: %v", h.Map())
	}

	items, _ := s.FetchRows(ctx, testutil.OrdersID, SheetOrderLines)
	if len(items) != 2 {
		t.Fatalf("expected 2 item rows, got %d", len(items))
	}
	if items[0].Get("VLR_COB") != "180,00" || items[0].Get("QTDE") != "2" || items[0].Get("COR") != "A2" {
		t.Errorf("unexpected first item: %v", items[0].Map())
	}
	if items[1].Get("VLR_COB") != "200,00" || items[1].Get("OBS") != "borda fina" {
		t.Errorf("unexpected second item: %v", items[1].Map())
	}
}

func TestSaveOrderRejectsEmptyDraft(t *testing.T) {
	s := testutil.NewLabStore()
	l := newTestLab(s)
	_, err := l.SaveOrder(context.Background(), testutil.ClientName, models.OrderDraft{PatientName: "Ana"})
	if !errors.Is(err, models.ErrEmptyOrder) {
		t.Errorf("expected ErrEmptyOrder, got %v", err)
	}
	if s.Len(testutil.OrdersID, SheetOrders) != 0 {
		t.Error("nothing should be written for an invalid draft")
	}
}

// lagStore hides appended order headers, like a spreadsheet that has not yet
// caught up with a write.
type lagStore struct {
	*store.MemoryStore
}

func (s lagStore) AppendRow(ctx context.Context, tableID, sheet string, values map[string]string) error {
	if sheet == SheetOrders {
		return nil
	}
	return s.MemoryStore.AppendRow(ctx, tableID, sheet, values)
}

func TestSaveOrderReservesNumbers(t *testing.T) {
	ctx := context.Background()
	l := newTestLab(lagStore{testutil.NewLabStore()})
	draft := models.OrderDraft{PatientName: "Ana", Items: []models.OrderItem{{Product: "Faceta", Quantity: 1}}}

	first, err := l.SaveOrder(ctx, testutil.ClientName, draft)
	if err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	second, err := l.SaveOrder(ctx, testutil.ClientName, draft)
	if err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("order numbers = %d, %d; want 1, 2", first, second)
	}
}

func TestDeadlineBuckets(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	seedReports(s)
	l := newTestLab(s)

	b, err := l.DeadlineBuckets(ctx)
	if err != nil {
		t.Fatalf("DeadlineBuckets: %v", err)
	}
	if len(b.Overdue) != 1 || b.Overdue[0].Number != "1" {
		t.Errorf("overdue = %+v", b.Overdue)
	}
	if len(b.Today) != 1 || b.Today[0].Number != "2" {
		t.Errorf("today = %+v", b.Today)
	}
	if len(b.Future) != 1 || b.Future[0].Number != "3" {
		t.Errorf("future = %+v", b.Future)
	}

	summary := RenderDeadlineSummary(b)
	for _, want := range []string{"Atrasados: 1 pedido(s)", "Hoje: 1 pedido(s)", "Futuros: 1 pedido(s)"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	overdue, err := l.RenderDeadlineBucket(ctx, b, 1)
	if err != nil {
		t.Fatalf("RenderDeadlineBucket: %v", err)
	}
	if !strings.Contains(overdue, "PEDIDOS ATRASADOS") || !strings.Contains(overdue, "Pedido *1* - 1 dias em atraso") {
		t.Errorf("unexpected overdue detail:\n%s", overdue)
	}
	if !strings.Contains(overdue, "Dra. *MARIA* CRO 1234") {
		t.Errorf("overdue detail missing client heading:\n%s", overdue)
	}
	today, _ := l.RenderDeadlineBucket(ctx, b, 2)
	if !strings.Contains(today, "vence hoje") {
		t.Errorf("unexpected today detail:\n%s", today)
	}
	empty, _ := l.RenderDeadlineBucket(ctx, models.DeadlineBuckets{}, 3)
	if empty != EmptyBucketMessage {
		t.Errorf("empty bucket = %q", empty)
	}
}

func TestReceivablesReport(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	seedReports(s)
	l := newTestLab(s)

	msg, err := l.ReceivablesReport(ctx)
	if err != nil {
		t.Fatalf("ReceivablesReport: %v", err)
	}
	for _, want := range []string{"Total Geral: R$ 400,00", "Pedido *4* entregue há 4 dia(s)", "Dr. *JOAO* CRO 5678", "Paciente: Duda"} {
		if !strings.Contains(msg, want) {
			t.Errorf("report missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "Pedido *5*") {
		t.Errorf("paid order listed as receivable:\n%s", msg)
	}

	empty := testutil.NewLabStore()
	msg, err = newTestLab(empty).ReceivablesReport(ctx)
	if err != nil {
		t.Fatalf("ReceivablesReport: %v", err)
	}
	if msg != NoReceivablesMessage {
		t.Errorf("empty report = %q", msg)
	}
}

func TestStatusSummary(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	seedReports(s)
	l := newTestLab(s)

	counts, err := l.StatusSummary(ctx)
	if err != nil {
		t.Fatalf("StatusSummary: %v", err)
	}
	if len(counts) != 2 || counts[0] != (StatusCount{"Em produção", 3}) || counts[1] != (StatusCount{"Prova", 1}) {
		t.Errorf("counts = %+v", counts)
	}
	if !strings.Contains(RenderStatusSummary(counts), "1️⃣ Em produção | 3 pedido(s)") {
		t.Errorf("unexpected summary:\n%s", RenderStatusSummary(counts))
	}
	if RenderStatusSummary(nil) != NoOpenStatusMessage {
		t.Error("empty summary should report no open statuses")
	}

	detail, err := l.OrdersByStatus(ctx, "Em produção")
	if err != nil {
		t.Fatalf("OrdersByStatus: %v", err)
	}
	for _, want := range []string{"Pedido *1*", "Terceir: R$ 20,00", "Pedido *6*", "FULANO", "Dra. MARIA (CRO 1234)"} {
		if !strings.Contains(detail, want) {
			t.Errorf("detail missing %q:\n%s", want, detail)
		}
	}
}

func TestClientBalances(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	seedReports(s)
	l := newTestLab(s)

	balances, err := l.ClientBalances(ctx)
	if err != nil {
		t.Fatalf("ClientBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %+v", balances)
	}
	if balances[0].Client.Name != testutil.ClientName || balances[0].Unpaid != 2 || balances[0].Total != 300 {
		t.Errorf("first balance = %+v", balances[0])
	}
	if balances[1].Client.Name != testutil.ClientName2 || balances[1].Unpaid != 2 || balances[1].Total != 700 {
		t.Errorf("second balance = %+v", balances[1])
	}
	msg := RenderClientBalances(balances)
	if !strings.Contains(msg, "1️⃣ Dra *MARIA* CRO 1234") || !strings.Contains(msg, "2 pedido(s), total R$ 300,00") {
		t.Errorf("unexpected balance list:\n%s", msg)
	}
	if !strings.Contains(RenderClientBalances(nil), AllClientsPaidMessage) {
		t.Error("empty balance list should say everyone paid")
	}
}

func TestRenderClientOrders(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	seedReports(s)
	l := newTestLab(s)

	admin, err := l.RenderClientOrders(ctx, testutil.ClientName, models.ProfileAdmin)
	if err != nil {
		t.Fatalf("RenderClientOrders: %v", err)
	}
	for _, want := range []string{"NR PEDIDO: *1 (Em produção)*", "atrasado 1 dias", "faltam 0 dias", "Coroa Zircônia", "Custo Terceirização: *R$ 20,00*"} {
		if !strings.Contains(admin, want) {
			t.Errorf("admin view missing %q:\n%s", want, admin)
		}
	}

	client, err := l.RenderClientOrders(ctx, testutil.ClientName, models.ProfileClient)
	if err != nil {
		t.Fatalf("RenderClientOrders: %v", err)
	}
	if strings.Contains(client, "Custo Terceirização") {
		t.Errorf("client view must not show outsourcing cost:\n%s", client)
	}

	none, err := l.RenderClientOrders(ctx, "NINGUEM", models.ProfileClient)
	if err != nil {
		t.Fatalf("RenderClientOrders: %v", err)
	}
	if none != NoOrdersMessage {
		t.Errorf("no orders message = %q", none)
	}
}

func TestRegisterProspect(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewLabStore()
	l := newTestLab(s)

	if err := l.RegisterProspect(ctx, testutil.UnknownPhone, "Maria Silva 12345"); err != nil {
		t.Fatalf("RegisterProspect: %v", err)
	}
	rows, _ := s.FetchRows(ctx, testutil.RegistryID, SheetProspects)
	if len(rows) != 1 {
		t.Fatalf("expected 1 prospect, got %d", len(rows))
	}
	r := rows[0]
	if r.Get("FONE_APR") != testutil.UnknownPhone || r.Get("RESPOSTA") != "Maria Silva 12345" || r.Get("DATA_REGISTRO") != "10/03/2025 12:00:00" {
		t.Errorf("unexpected prospect row: %v", r.Map())
	}

	list, err := l.ListProspects(ctx)
	if err != nil {
		t.Fatalf("ListProspects: %v", err)
	}
	if !strings.Contains(list, "1. Maria Silva 12345 | 📞 "+testutil.UnknownPhone) {
		t.Errorf("unexpected prospect listing:\n%s", list)
	}
}

func TestRegistryListings(t *testing.T) {
	ctx := context.Background()
	l := newTestLab(testutil.NewLabStore())

	clients, _ := l.ListClients(ctx)
	if !strings.Contains(clients, "1. Dra. MARIA | CRO: 1234") {
		t.Errorf("unexpected client listing:\n%s", clients)
	}
	products, _ := l.ListProducts(ctx)
	if !strings.Contains(products, "1. Coroa Zircônia | R$ 150,00 | Prazo: 7 dias") {
		t.Errorf("unexpected product listing:\n%s", products)
	}
	patients, _ := l.ListPatients(ctx)
	if !strings.Contains(patients, "1. Ana Paula (Cliente: "+testutil.ClientName+")") {
		t.Errorf("unexpected patient listing:\n%s", patients)
	}
	admins, _ := l.ListAdmins(ctx)
	if !strings.Contains(admins, "1. Carla | 📞 (65) 99999-0001") {
		t.Errorf("unexpected admin listing:\n%s", admins)
	}
	prospects, _ := l.ListProspects(ctx)
	if prospects != "✅ Nenhum cliente aguardando cadastro." {
		t.Errorf("unexpected empty prospect listing: %q", prospects)
	}
}

func TestParseMoney(t *testing.T) {
	tests := map[string]float64{
		"R$ 1.234,56": 1234.56,
		"150,00":      150,
		"R$\u00a050":  50,
		"":            0,
		"abc":         0,
	}
	for in, want := range tests {
		if got := ParseMoney(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("ParseMoney(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	if got := FormatMoney(150); got != "R$ 150,00" {
		t.Errorf("FormatMoney(150) = %q", got)
	}
	if got := FormatMoney(0.5); got != "R$ 0,50" {
		t.Errorf("FormatMoney(0.5) = %q", got)
	}
	if got := FormatMoney(1234.56); got != "R$ 1.234,56" {
		t.Errorf("FormatMoney(1234.56) = %q", got)
	}
	if got := FormatMoney(-50); got != "-R$ 50,00" {
		t.Errorf("FormatMoney(-50) = %q", got)
	}
	if got := FormatMoney(-0.001); got != "R$ 0,00" {
		t.Errorf("FormatMoney(-0.001) = %q", got)
	}
	if got := ParseMoney(FormatMoney(-1234.5)); got != -1234.5 {
		t.Errorf("negative round trip = %v", got)
	}
}

func TestDaysBetween(t *testing.T) {
	now := testutil.Now
	late := time.Date(2025, time.March, 10, 23, 59, 0, 0, testutil.Location)
	if d := DaysBetween(now, late); d != 0 {
		t.Errorf("same calendar day = %d, want 0", d)
	}
	d, ok := ParseDate("15/3/2025", testutil.Location)
	if !ok {
		t.Fatal("ParseDate failed on single-digit month")
	}
	if n := DaysBetween(now, d); n != 5 {
		t.Errorf("DaysBetween = %d, want 5", n)
	}
	if _, ok := ParseDate("not a date", testutil.Location); ok {
		t.Error("ParseDate accepted garbage")
	}
}
