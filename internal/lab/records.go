package lab

import (
	"context"
	"fmt"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/store"
)

// Column names per sheet.
const (
	colAdminPhone = "FONE_ADM"
	colAdminName  = "NOME"

	colClientPhone   = "FONE"
	colClientName    = "NOME_CLI"
	colClientGender  = "SEXO"
	colClientLicense = "CRO"

	colProduct      = "PRODUTO"
	colCatalogPrice = "VLR_CAT"
	colLeadTime     = "PRAZO"

	colProspectPhone = "FONE_APR"
	colProspectReply = "RESPOSTA"
	colProspectAt    = "DATA_REGISTRO"

	colPatientName   = "NOME_PAC"
	colPatientClient = "CLIENTE"

	colNumber      = "NR_PED"
	colStatus      = "STATUS"
	colClient      = "CLIENTE"
	colPatient     = "PACIENTE"
	colOrderedOn   = "DT_PED"
	colDeadline    = "DT_PRAZO"
	colDeliveredOn = "DT_ENTREG"
	colValue       = "VLR_PED"
	colOutsourcing = "CUST_TERC"
	colPaid        = "PAGO"
	colNote        = "OBS"

	colQuantity     = "QTDE"
	colColor        = "COR"
	colChargedPrice = "VLR_COB"
	colLineTotal    = "TOTAL_PROD"
)

// legacyCatalogPriceColumn is an older header spelling still found in some copies
// of the product sheet.
const legacyCatalogPriceColumn = "VLR CAT"

func (l *Lab) fetch(ctx context.Context, tableID, sheet string) ([]store.Row, error) {
	rows, err := l.store.FetchRows(ctx, tableID, sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	return rows, nil
}

// Admins returns the ADM_BOT rows.
func (l *Lab) Admins(ctx context.Context) ([]models.Admin, error) {
	rows, err := l.fetch(ctx, l.registryID, SheetAdmins)
	if err != nil {
		return nil, err
	}
	out := make([]models.Admin, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Admin{Phone: r.Get(colAdminPhone), Name: r.Get(colAdminName)})
	}
	return out, nil
}

// Clients returns the CLIENTES rows.
func (l *Lab) Clients(ctx context.Context) ([]models.Client, error) {
	rows, err := l.fetch(ctx, l.registryID, SheetClients)
	if err != nil {
		return nil, err
	}
	out := make([]models.Client, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Client{
			Phone:   r.Get(colClientPhone),
			Name:    r.Get(colClientName),
			Gender:  r.Get(colClientGender),
			License: r.Get(colClientLicense),
		})
	}
	return out, nil
}

// Products returns the PRODUTOS rows in catalog order.
func (l *Lab) Products(ctx context.Context) ([]models.Product, error) {
	rows, err := l.fetch(ctx, l.registryID, SheetProducts)
	if err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		price := r.Get(colCatalogPrice)
		if price == "" {
			price = r.Get(legacyCatalogPriceColumn)
		}
		out = append(out, models.Product{
			Name:         r.Get(colProduct),
			CatalogPrice: price,
			LeadTimeDays: r.Get(colLeadTime),
		})
	}
	return out, nil
}

// Prospects returns the CLI_APR rows.
func (l *Lab) Prospects(ctx context.Context) ([]models.Prospect, error) {
	rows, err := l.fetch(ctx, l.registryID, SheetProspects)
	if err != nil {
		return nil, err
	}
	out := make([]models.Prospect, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Prospect{
			Phone:        r.Get(colProspectPhone),
			Response:     r.Get(colProspectReply),
			RegisteredAt: r.Get(colProspectAt),
		})
	}
	return out, nil
}

// Patients returns the PACIENTES rows.
func (l *Lab) Patients(ctx context.Context) ([]models.Patient, error) {
	rows, err := l.fetch(ctx, l.registryID, SheetPatients)
	if err != nil {
		return nil, err
	}
	out := make([]models.Patient, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Patient{Name: r.Get(colPatientName), Client: r.Get(colPatientClient)})
	}
	return out, nil
}

// Orders returns the PEDIDOS rows.
func (l *Lab) Orders(ctx context.Context) ([]models.Order, error) {
	rows, err := l.fetch(ctx, l.ordersID, SheetOrders)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Order{
			Number:          r.Get(colNumber),
			Status:          r.Get(colStatus),
			Client:          r.Get(colClient),
			Patient:         r.Get(colPatient),
			OrderedOn:       r.Get(colOrderedOn),
			Deadline:        r.Get(colDeadline),
			DeliveredOn:     r.Get(colDeliveredOn),
			Value:           r.Get(colValue),
			OutsourcingCost: r.Get(colOutsourcing),
			Paid:            r.Get(colPaid),
			Note:            r.Get(colNote),
		})
	}
	return out, nil
}

// OrderLines returns the PEDIDOS_ITENS rows.
func (l *Lab) OrderLines(ctx context.Context) ([]models.OrderLine, error) {
	rows, err := l.fetch(ctx, l.ordersID, SheetOrderLines)
	if err != nil {
		return nil, err
	}
	out := make([]models.OrderLine, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.OrderLine{
			Number:       r.Get(colNumber),
			Product:      r.Get(colProduct),
			Quantity:     r.Get(colQuantity),
			Color:        r.Get(colColor),
			Note:         r.Get(colNote),
			ChargedPrice: r.Get(colChargedPrice),
			CatalogPrice: r.Get(colCatalogPrice),
			Total:        r.Get(colLineTotal),
		})
	}
	return out, nil
}

// clientIndex maps NOME_CLI to its registry record.
func clientIndex(clients []models.Client) map[string]models.Client {
	m := make(map[string]models.Client, len(clients))
	for _, c := range clients {
		if _, dup := m[c.Name]; !dup {
			m[c.Name] = c
		}
	}
	return m
}
