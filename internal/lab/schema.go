package lab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/labbot/internal/models"
)

// SheetDefiner is implemented by backends that must know a sheet's header
// before the first row is appended, such as the SQL stores.
type SheetDefiner interface {
	DefineSheet(ctx context.Context, tableID, sheet string, columns []string) error
}

var registryLayout = []struct {
	sheet   string
	columns []string
}{
	{SheetAdmins, []string{colAdminPhone, colAdminName}},
	{SheetClients, []string{colClientPhone, colClientName, colClientGender, colClientLicense}},
	{SheetProducts, []string{colProduct, colCatalogPrice, colLeadTime}},
	{SheetProspects, []string{colProspectPhone, colProspectReply, colProspectAt}},
	{SheetPatients, []string{colPatientName, colPatientClient}},
}

var ordersLayout = []struct {
	sheet   string
	columns []string
}{
	{SheetOrders, []string{colNumber, colStatus, colClient, colPatient, colOrderedOn, colDeadline, colDeliveredOn, colValue, colOutsourcing, colPaid, colNote}},
	{SheetOrderLines, []string{colNumber, colProduct, colQuantity, colColor, colNote, colChargedPrice, colCatalogPrice, colLineTotal}},
}

// DefineSheets declares the header of every sheet the bot reads or writes.
// Existing columns are kept, so it is safe to call on every start.
func (l *Lab) DefineSheets(ctx context.Context, d SheetDefiner) error {
	for _, s := range registryLayout {
		if err := d.DefineSheet(ctx, l.registryID, s.sheet, s.columns); err != nil {
			return fmt.Errorf("failed to define %s: %w", s.sheet, err)
		}
	}
	for _, s := range ordersLayout {
		if err := d.DefineSheet(ctx, l.ordersID, s.sheet, s.columns); err != nil {
			return fmt.Errorf("failed to define %s: %w", s.sheet, err)
		}
	}
	slog.Debug("Lab.DefineSheets: layout declared", "registry", l.registryID, "orders", l.ordersID)
	return nil
}

// AdminNumbers returns the phone of every admin with the country code
// prefixed, ready to be used as a message recipient.
func (l *Lab) AdminNumbers(ctx context.Context) ([]string, error) {
	admins, err := l.Admins(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(admins))
	seen := make(map[string]bool, len(admins))
	for _, a := range admins {
		n := DigitsOnly(a.Phone)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, l.countryCode+n)
	}
	return out, nil
}

// DailyDigest renders the deadline counts sent to admins on schedule.
func (l *Lab) DailyDigest(ctx context.Context) (string, error) {
	b, err := l.DeadlineBuckets(ctx)
	if err != nil {
		return "", err
	}
	return RenderDigest(b), nil
}

// RenderDigest renders the deadline counts without the submenu options.
func RenderDigest(b models.DeadlineBuckets) string {
	var s strings.Builder
	fmt.Fprintf(&s, "☀️ *RESUMO DE PRAZOS* %s\n%s\n", b.AsOf.Format(dateLayout), separator)
	fmt.Fprintf(&s, "⚠ *Atrasados: %d pedido(s)*\n", len(b.Overdue))
	fmt.Fprintf(&s, "⏰ Hoje: %d pedido(s)\n", len(b.Today))
	fmt.Fprintf(&s, "✅ Futuros: %d pedido(s)\n%s", len(b.Future), separator)
	return s.String()
}
