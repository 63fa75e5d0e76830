package lab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
)

// Messages for empty reports.
const (
	NoReceivablesMessage  = "✅ Não existem pedidos a receber."
	NoOpenStatusMessage   = "✅ Não existem pedidos em aberto por status."
	EmptyBucketMessage    = "❌ Nenhum pedido nesta categoria."
	AllClientsPaidMessage = "✅ Todos os clientes estão com seus pedidos pagos."
)

// clientGroup is the orders of one client, kept in first-seen order.
type clientGroup struct {
	name   string
	orders []models.Order
}

func groupByClient(orders []models.Order) []clientGroup {
	idx := make(map[string]int)
	var groups []clientGroup
	for _, o := range orders {
		i, ok := idx[o.Client]
		if !ok {
			i = len(groups)
			idx[o.Client] = i
			groups = append(groups, clientGroup{name: o.Client})
		}
		groups[i].orders = append(groups[i].orders, o)
	}
	return groups
}

func orderValues(orders []models.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.Value
	}
	return out
}

// sortByDate orders by the date picked by field, undated orders last.
func (l *Lab) sortByDate(orders []models.Order, field func(models.Order) string) {
	sort.SliceStable(orders, func(i, j int) bool {
		di, oki := ParseDate(field(orders[i]), l.loc)
		dj, okj := ParseDate(field(orders[j]), l.loc)
		if oki != okj {
			return oki
		}
		return di.Before(dj)
	})
}

// clientTitle renders a report heading for a client, falling back to the raw
// name when the client is not registered.
func clientTitle(name string, reg map[string]models.Client) string {
	c, ok := reg[name]
	if !ok {
		return name
	}
	icon := "👨‍⚕️"
	if c.IsFemale() {
		icon = "👩‍⚕️"
	}
	return fmt.Sprintf("%s %s *%s* CRO %s", icon, c.Title(), c.FirstName(), c.License)
}

// ReceivablesReport lists delivered orders not yet paid, grouped by client,
// oldest delivery first, with per-client and overall totals.
func (l *Lab) ReceivablesReport(ctx context.Context) (string, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return "", err
	}
	var due []models.Order
	for _, o := range orders {
		if o.IsDelivered() && !o.IsPaid() {
			due = append(due, o)
		}
	}
	if len(due) == 0 {
		return NoReceivablesMessage, nil
	}
	clients, err := l.Clients(ctx)
	if err != nil {
		return "", err
	}
	reg := clientIndex(clients)
	today := l.today()

	var b strings.Builder
	fmt.Fprintf(&b, "💵 *PEDIDOS A RECEBER*\n      _Total Geral: %s_\n%s\n", FormatMoney(SumMoney(orderValues(due)...)), separator)
	n := 1
	for _, g := range groupByClient(due) {
		l.sortByDate(g.orders, func(o models.Order) string { return o.DeliveredOn })
		fmt.Fprintf(&b, "%s\n💰 *Total: %s*\n\n", clientTitle(g.name, reg), FormatMoney(SumMoney(orderValues(g.orders)...)))
		for _, o := range g.orders {
			since := ""
			if d, ok := ParseDate(o.DeliveredOn, l.loc); ok {
				since = fmt.Sprintf("há %d dia(s)", DaysBetween(d, today))
			}
			fmt.Fprintf(&b, "%d️⃣ Pedido *%s* entregue %s\n", n, o.Number, since)
			fmt.Fprintf(&b, "   - Valor: %s\n", o.Value)
			fmt.Fprintf(&b, "   - _Paciente: %s_\n", o.Patient)
			if o.Note != "" {
				fmt.Fprintf(&b, "   - Obs: %s\n", o.Note)
			}
			b.WriteString("\n")
			n++
		}
		b.WriteString(separator + "\n")
	}
	return b.String(), nil
}

// DeadlineBuckets classifies orders not yet delivered that carry a deadline
// into overdue, due today and future, by calendar day in the lab time zone.
func (l *Lab) DeadlineBuckets(ctx context.Context) (models.DeadlineBuckets, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return models.DeadlineBuckets{}, err
	}
	return l.classifyDeadlines(orders, l.today()), nil
}

func (l *Lab) classifyDeadlines(orders []models.Order, now time.Time) models.DeadlineBuckets {
	b := models.DeadlineBuckets{AsOf: now}
	for _, o := range orders {
		if o.IsDelivered() {
			continue
		}
		d, ok := ParseDate(o.Deadline, l.loc)
		if !ok {
			continue
		}
		switch diff := DaysBetween(now, d); {
		case diff < 0:
			b.Overdue = append(b.Overdue, o)
		case diff == 0:
			b.Today = append(b.Today, o)
		default:
			b.Future = append(b.Future, o)
		}
	}
	return b
}

// RenderDeadlineSummary renders the bucket counts as a numbered submenu.
func RenderDeadlineSummary(b models.DeadlineBuckets) string {
	var s strings.Builder
	fmt.Fprintf(&s, "📅 *PEDIDOS POR PRAZO*\n%s\n", separator)
	fmt.Fprintf(&s, "1️⃣ ⚠ *Atrasados: %d pedido(s)*\n", len(b.Overdue))
	fmt.Fprintf(&s, "2️⃣ ⏰ Hoje: %d pedido(s)\n", len(b.Today))
	fmt.Fprintf(&s, "3️⃣ ✅ Futuros: %d pedido(s)\n", len(b.Future))
	fmt.Fprintf(&s, "0️⃣ 🔙 Voltar Menu Anterior\n%s", separator)
	return s.String()
}

var bucketTitles = map[int]string{
	1: "⚠️ *PEDIDOS ATRASADOS*",
	2: "⏰ *PEDIDOS PARA HOJE*",
	3: "✅ *PEDIDOS FUTUROS*",
}

// RenderDeadlineBucket details one bucket (1 overdue, 2 today, 3 future)
// grouped by client, earliest deadline first.
func (l *Lab) RenderDeadlineBucket(ctx context.Context, b models.DeadlineBuckets, n int) (string, error) {
	orders, ok := b.Bucket(n)
	if !ok || len(orders) == 0 {
		return EmptyBucketMessage, nil
	}
	clients, err := l.Clients(ctx)
	if err != nil {
		return "", err
	}
	reg := clientIndex(clients)
	today := l.today()

	var s strings.Builder
	fmt.Fprintf(&s, "%s\n     _Total %s_\n%s\n", bucketTitles[n], FormatMoney(SumMoney(orderValues(orders)...)), separator)
	count := 1
	for _, g := range groupByClient(orders) {
		l.sortByDate(g.orders, func(o models.Order) string { return o.Deadline })
		fmt.Fprintf(&s, "%s\n💰 *Total: %s*\n\n", clientTitle(g.name, reg), FormatMoney(SumMoney(orderValues(g.orders)...)))
		for _, o := range g.orders {
			info := ""
			if d, ok := ParseDate(o.Deadline, l.loc); ok {
				switch diff := DaysBetween(today, d); {
				case diff < 0:
					info = fmt.Sprintf(" - %d dias em atraso", -diff)
				case diff == 0:
					info = " - vence hoje"
				default:
					info = fmt.Sprintf(" - em %d dias", diff)
				}
			}
			fmt.Fprintf(&s, "%d️⃣ Pedido *%s*%s\n", count, o.Number, info)
			fmt.Fprintf(&s, "*%s*\n", o.Status)
			fmt.Fprintf(&s, "   - Paciente: %s\n", o.Patient)
			fmt.Fprintf(&s, "   - Prazo: %s\n", o.Deadline)
			fmt.Fprintf(&s, "   - Valor: %s\n", o.Value)
			if o.Note != "" {
				fmt.Fprintf(&s, "   - Obs: %s\n", o.Note)
			}
			s.WriteString("\n")
			count++
		}
		s.WriteString(separator + "\n")
	}
	return s.String(), nil
}

// StatusCount is one line of the status summary.
type StatusCount struct {
	Status string
	Count  int
}

// StatusSummary counts unpaid orders per status, skipping "Entregue" and
// blank statuses, in first-seen order.
func (l *Lab) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int)
	var out []StatusCount
	for _, o := range orders {
		if o.IsPaid() || o.Status == "" || o.IsDelivered() {
			continue
		}
		i, ok := idx[o.Status]
		if !ok {
			i = len(out)
			idx[o.Status] = i
			out = append(out, StatusCount{Status: o.Status})
		}
		out[i].Count++
	}
	return out, nil
}

// RenderStatusSummary renders the status list as a numbered submenu.
func RenderStatusSummary(counts []StatusCount) string {
	if len(counts) == 0 {
		return NoOpenStatusMessage
	}
	var s strings.Builder
	fmt.Fprintf(&s, "📊 *Pedidos por Status (somente não pagos)*\n%s\n", separator)
	for i, c := range counts {
		fmt.Fprintf(&s, "%d️⃣ %s | %d pedido(s)\n", i+1, c.Status, c.Count)
	}
	fmt.Fprintf(&s, "%s\n0️⃣ Para Voltar Menu Principal", separator)
	return s.String()
}

// OrdersByStatus renders the unpaid orders with the given status grouped by
// client, including the outsourcing cost.
func (l *Lab) OrdersByStatus(ctx context.Context, status string) (string, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return "", err
	}
	var match []models.Order
	for _, o := range orders {
		if o.Status == status && !o.IsPaid() {
			match = append(match, o)
		}
	}
	if len(match) == 0 {
		return fmt.Sprintf("✅ Nenhum pedido *não pago* com status *%s*.", status), nil
	}
	clients, err := l.Clients(ctx)
	if err != nil {
		return "", err
	}
	reg := clientIndex(clients)
	today := l.today()

	var s strings.Builder
	fmt.Fprintf(&s, "📊 Pedidos com Status: *%s*\n%s\n", status, separator)
	count := 1
	for _, g := range groupByClient(match) {
		title := g.name
		if c, ok := reg[g.name]; ok {
			icon := "👨‍⚕️"
			if c.IsFemale() {
				icon = "👩‍⚕️"
			}
			title = fmt.Sprintf("%s %s %s (CRO %s)", icon, c.Title(), c.FirstName(), c.License)
		}
		fmt.Fprintf(&s, "%s\n💰 Total: %s\n\n", title, FormatMoney(SumMoney(orderValues(g.orders)...)))
		l.sortByDate(g.orders, func(o models.Order) string { return o.Deadline })
		for _, o := range g.orders {
			info := ""
			if d, ok := ParseDate(o.Deadline, l.loc); ok {
				switch diff := DaysBetween(today, d); {
				case diff < 0:
					info = fmt.Sprintf("%s - %d dia(s) em atraso", o.Deadline, -diff)
				case diff == 0:
					info = o.Deadline + " - vence hoje"
				default:
					info = fmt.Sprintf("%s - em %d dia(s)", o.Deadline, diff)
				}
			}
			fmt.Fprintf(&s, "%d️⃣ Pedido *%s*\n", count, o.Number)
			fmt.Fprintf(&s, "  - Paciente: %s\n", o.Patient)
			fmt.Fprintf(&s, "  - Prazo: %s\n", info)
			fmt.Fprintf(&s, "  - Valor: %s\n", o.Value)
			fmt.Fprintf(&s, "  - Terceir: %s\n", orDash(o.OutsourcingCost))
			if o.Note != "" {
				fmt.Fprintf(&s, "  - Obs: %s\n", o.Note)
			}
			s.WriteString("\n")
			count++
		}
		s.WriteString(separator + "\n")
	}
	return s.String(), nil
}

// ClientBalance is a registered client with unpaid orders.
type ClientBalance struct {
	Client models.Client
	Unpaid int
	Total  float64
}

// ClientBalances lists clients that appear on PEDIDOS, have a CLIENTES record
// and at least one unpaid order, in first-seen order.
func (l *Lab) ClientBalances(ctx context.Context) ([]ClientBalance, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := l.Clients(ctx)
	if err != nil {
		return nil, err
	}
	reg := clientIndex(clients)

	var out []ClientBalance
	for _, g := range groupByClient(orders) {
		if g.name == "" {
			continue
		}
		c, ok := reg[g.name]
		if !ok {
			continue
		}
		bal := ClientBalance{Client: c}
		for _, o := range g.orders {
			if !o.IsPaid() {
				bal.Unpaid++
				bal.Total += ParseMoney(o.Value)
			}
		}
		if bal.Unpaid > 0 {
			out = append(out, bal)
		}
	}
	return out, nil
}

// RenderClientBalances renders the client list as a numbered submenu.
func RenderClientBalances(balances []ClientBalance) string {
	var s strings.Builder
	fmt.Fprintf(&s, "📑 *Pedidos por Cliente*\nDigite o número do cliente:\n%s\n", separator)
	for i, bal := range balances {
		c := bal.Client
		fmt.Fprintf(&s, "%d️⃣ %s *%s* CRO %s\n   _%d pedido(s), total %s_\n\n",
			i+1, strings.TrimSuffix(c.Title(), "."), c.FirstName(), c.License, bal.Unpaid, FormatMoney(bal.Total))
	}
	if len(balances) == 0 {
		s.WriteString(AllClientsPaidMessage)
	}
	return s.String()
}
