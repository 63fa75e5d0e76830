package lab

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/labbot/internal/models"
)

const separator = "━━━━━━━━━━━━━━━"

// NoOrdersMessage is shown when a client has no order on PEDIDOS.
const NoOrdersMessage = "❌ Este cliente não possui pedidos cadastrados."

// orderNumber parses NR_PED, counting anything non-numeric as 0.
func orderNumber(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// NextOrderNumber returns the highest NR_PED on PEDIDOS plus one, or 1 for an
// empty sheet. It does not reserve the number; SaveOrder does.
func (l *Lab) NextOrderNumber(ctx context.Context) (int, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, o := range orders {
		if n := orderNumber(o.Number); n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// reserveOrderNumber hands out a number no earlier call in this process got.
func (l *Lab) reserveOrderNumber(ctx context.Context) (int, error) {
	l.numMu.Lock()
	defer l.numMu.Unlock()
	n, err := l.NextOrderNumber(ctx)
	if err != nil {
		return 0, err
	}
	if n <= l.lastIssued {
		slog.Warn("Lab.reserveOrderNumber: sheet behind reservation, skipping ahead",
			"sheet_next", n, "last_issued", l.lastIssued)
		n = l.lastIssued + 1
	}
	l.lastIssued = n
	return n, nil
}

// ResolveCatalogPrice returns VLR_CAT of the product whose name matches
// (trimmed, case-insensitive). A miss yields "" and a warning, not an error.
func (l *Lab) ResolveCatalogPrice(ctx context.Context, product string) (string, error) {
	products, err := l.Products(ctx)
	if err != nil {
		return "", err
	}
	return lookupPrice(products, product), nil
}

func lookupPrice(products []models.Product, product string) string {
	want := strings.ToLower(strings.TrimSpace(product))
	for _, p := range products {
		if strings.ToLower(strings.TrimSpace(p.Name)) == want {
			return p.CatalogPrice
		}
	}
	slog.Warn("Lab.ResolveCatalogPrice: product not in catalog", "product", product)
	return ""
}

// SaveOrder writes the order header and one line per item and returns the
// order number. Catalog prices are resolved again here so the saved VLR_COB
// reflects the catalog at completion time, not at item entry.
func (l *Lab) SaveOrder(ctx context.Context, clientName string, draft models.OrderDraft) (int, error) {
	if err := draft.Validate(); err != nil {
		return 0, err
	}
	products, err := l.Products(ctx)
	if err != nil {
		return 0, err
	}
	n, err := l.reserveOrderNumber(ctx)
	if err != nil {
		return 0, err
	}
	num := strconv.Itoa(n)

	header := map[string]string{
		colNumber:    num,
		colStatus:    models.OrderStatusRegistered,
		colClient:    clientName,
		colPatient:   draft.PatientName,
		colOrderedOn: FormatDate(l.today()),
	}
	if err := l.store.AppendRow(ctx, l.ordersID, SheetOrders, header); err != nil {
		slog.Error("Lab.SaveOrder: header append failed", "error", err, "order", n)
		return 0, fmt.Errorf("failed to save order %d: %w", n, err)
	}

	for i, it := range draft.Items {
		line := map[string]string{
			colNumber:       num,
			colProduct:      it.Product,
			colQuantity:     strconv.Itoa(it.Quantity),
			colColor:        it.Color,
			colNote:         it.Note,
			colChargedPrice: lookupPrice(products, it.Product),
		}
		if err := l.store.AppendRow(ctx, l.ordersID, SheetOrderLines, line); err != nil {
			// The header is already written; the lab fixes partial orders by hand.
			slog.Error("Lab.SaveOrder: item append failed", "error", err, "order", n, "item", i+1)
			return 0, fmt.Errorf("failed to save item %d of order %d: %w", i+1, n, err)
		}
	}
	slog.Info("Lab.SaveOrder: order saved", "order", n, "client", clientName, "items", len(draft.Items))
	return n, nil
}

// countdown describes a deadline relative to today for the order detail.
func (l *Lab) countdown(deadline string) string {
	d, ok := ParseDate(deadline, l.loc)
	if !ok {
		return ""
	}
	days := DaysBetween(l.today(), d)
	if days >= 0 {
		return fmt.Sprintf("- faltam %d dias -", days)
	}
	return fmt.Sprintf("- ‼️ atrasado %d dias -", -days)
}

// RenderClientOrders renders every order of clientName with its items. The
// outsourcing cost is only shown to admins.
func (l *Lab) RenderClientOrders(ctx context.Context, clientName string, viewer models.Profile) (string, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return "", err
	}
	lines, err := l.OrderLines(ctx)
	if err != nil {
		return "", err
	}

	var mine []models.Order
	for _, o := range orders {
		if o.Client == clientName {
			mine = append(mine, o)
		}
	}
	if len(mine) == 0 {
		return NoOrdersMessage, nil
	}

	byNumber := make(map[string][]models.OrderLine)
	for _, ln := range lines {
		byNumber[ln.Number] = append(byNumber[ln.Number], ln)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👨‍⚕️ *%s*\n\n", clientName)
	for i, o := range mine {
		fmt.Fprintf(&b, "📌 NR PEDIDO: *%s (%s)*\n", o.Number, o.Status)
		fmt.Fprintf(&b, "🧑‍⚕️ Paciente: *%s*\n", o.Patient)
		fmt.Fprintf(&b, "🗓️ Data Pedido: *%s*\n", o.OrderedOn)
		fmt.Fprintf(&b, "📅 Prazo Entrega: *%s* (%s)\n\n", o.Deadline, l.countdown(o.Deadline))
		b.WriteString("📦 *ITENS DO PEDIDO:*\n\n")
		for j, ln := range byNumber[o.Number] {
			fmt.Fprintf(&b, "%d️⃣ *%s*\n", j+1, ln.Product)
			fmt.Fprintf(&b, "   Qtd: %s | Cor: %s\n", ln.Quantity, orDash(ln.Color))
			fmt.Fprintf(&b, "   Valor do Catálogo: %s\n", ln.CatalogPrice)
			fmt.Fprintf(&b, "   Valor Cobrado: %s\n", ln.ChargedPrice)
			fmt.Fprintf(&b, "   Total do Item: %s\n\n", ln.Total)
		}
		fmt.Fprintf(&b, "💰 TOTAL PEDIDO: *%s*\n", o.Value)
		if viewer == models.ProfileAdmin {
			fmt.Fprintf(&b, "⚙️ Custo Terceirização: *%s*\n", o.OutsourcingCost)
		}
		if i < len(mine)-1 {
			b.WriteString(separator + "\n")
		}
	}
	return b.String(), nil
}
