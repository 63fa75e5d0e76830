package lab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/labbot/internal/models"
)

// RenderCatalog lists products as "N. PRODUTO | R$ VLR | Prazo: P dias".
func RenderCatalog(products []models.Product) string {
	lines := make([]string, len(products))
	for i, p := range products {
		lines[i] = fmt.Sprintf("%d. %s | R$ %s | Prazo: %s dias", i+1, p.Name, p.CatalogPrice, p.LeadTimeDays)
	}
	return strings.Join(lines, "\n")
}

func listing(title string, lines []string) string {
	return fmt.Sprintf("%s\n%s\n%s", title, separator, strings.Join(lines, "\n"))
}

// ListClients renders the CLIENTES registry.
func (l *Lab) ListClients(ctx context.Context) (string, error) {
	clients, err := l.Clients(ctx)
	if err != nil {
		return "", err
	}
	if len(clients) == 0 {
		return "❌ Nenhum cliente cadastrado.", nil
	}
	lines := make([]string, len(clients))
	for i, c := range clients {
		first := c.FirstName()
		if first == "" {
			first = "—"
		}
		lines[i] = fmt.Sprintf("%d. %s %s | CRO: %s | 📞 %s", i+1, c.Title(), first, orDash(c.License), orDash(c.Phone))
	}
	return listing("👥 *Lista de Clientes*", lines), nil
}

// ListPatients renders the PACIENTES registry.
func (l *Lab) ListPatients(ctx context.Context) (string, error) {
	patients, err := l.Patients(ctx)
	if err != nil {
		return "", err
	}
	if len(patients) == 0 {
		return "❌ Nenhum paciente cadastrado.", nil
	}
	lines := make([]string, len(patients))
	for i, p := range patients {
		lines[i] = fmt.Sprintf("%d. %s (Cliente: %s)", i+1, orDash(p.Name), orDash(p.Client))
	}
	return listing("🧑‍⚕️ *Lista de Pacientes*", lines), nil
}

// ListProducts renders the PRODUTOS registry.
func (l *Lab) ListProducts(ctx context.Context) (string, error) {
	products, err := l.Products(ctx)
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		return "❌ Nenhum produto cadastrado.", nil
	}
	shown := make([]models.Product, len(products))
	for i, p := range products {
		shown[i] = models.Product{Name: orDash(p.Name), CatalogPrice: orDash(p.CatalogPrice), LeadTimeDays: orDash(p.LeadTimeDays)}
	}
	return listing("📦 *Lista de Produtos*", []string{RenderCatalog(shown)}), nil
}

// ListProspects renders CLI_APR, the senders waiting to be registered.
func (l *Lab) ListProspects(ctx context.Context) (string, error) {
	prospects, err := l.Prospects(ctx)
	if err != nil {
		return "", err
	}
	if len(prospects) == 0 {
		return "✅ Nenhum cliente aguardando cadastro.", nil
	}
	lines := make([]string, len(prospects))
	for i, p := range prospects {
		lines[i] = fmt.Sprintf("%d. %s | 📞 %s | ⏱️ %s", i+1, orDash(p.Response), orDash(p.Phone), orDash(p.RegisteredAt))
	}
	return listing("📝 *Clientes a Cadastrar*", lines), nil
}

// ListAdmins renders ADM_BOT.
func (l *Lab) ListAdmins(ctx context.Context) (string, error) {
	admins, err := l.Admins(ctx)
	if err != nil {
		return "", err
	}
	if len(admins) == 0 {
		return "❌ Nenhum administrador cadastrado.", nil
	}
	lines := make([]string, len(admins))
	for i, a := range admins {
		lines[i] = fmt.Sprintf("%d. %s | 📞 %s", i+1, orDash(a.Name), orDash(a.Phone))
	}
	return listing("👨‍💼 *Administradores do Bot*", lines), nil
}

// RegisterProspect appends an unknown sender's self-identification to CLI_APR,
// stamped in the prospect time zone.
func (l *Lab) RegisterProspect(ctx context.Context, phone, response string) error {
	row := map[string]string{
		colProspectPhone: phone,
		colProspectReply: response,
		colProspectAt:    l.now().In(l.prospectLoc).Format(timestampLayout),
	}
	if err := l.store.AppendRow(ctx, l.registryID, SheetProspects, row); err != nil {
		slog.Error("Lab.RegisterProspect: append failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to register prospect: %w", err)
	}
	slog.Info("Lab.RegisterProspect: prospect registered", "phone", phone)
	return nil
}
