package flow

import (
	"context"

	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/models"
)

// backToHub is the "0" handler shared by every admin submenu.
func backToHub(t *Turn) {
	t.Session.ClearScratch()
	t.Goto(models.StageAdminMenu)
	t.Reply(AdminHubMenu)
}

func (m *Machine) adminHub(ctx context.Context, t *Turn) error {
	switch t.Text {
	case "0":
		t.Reply(AdminHubMenu)
	case "1":
		report, err := m.domain.ReceivablesReport(ctx)
		if err != nil {
			return err
		}
		t.Reply(report)
	case "2":
		b, err := m.domain.DeadlineBuckets(ctx)
		if err != nil {
			return err
		}
		t.Session.Deadlines = &b
		t.Goto(models.StageAdminDeadline)
		t.Reply(lab.RenderDeadlineSummary(b))
	case "3":
		counts, err := m.domain.StatusSummary(ctx)
		if err != nil {
			return err
		}
		t.Reply(lab.RenderStatusSummary(counts))
		if len(counts) == 0 {
			return nil
		}
		statuses := make([]string, len(counts))
		for i, c := range counts {
			statuses[i] = c.Status
		}
		t.Session.Statuses = statuses
		t.Goto(models.StageAdminStatus)
	case "4":
		balances, err := m.domain.ClientBalances(ctx)
		if err != nil {
			return err
		}
		t.Reply(lab.RenderClientBalances(balances))
		if len(balances) == 0 {
			return nil
		}
		names := make([]string, len(balances))
		for i, b := range balances {
			names[i] = b.Client.Name
		}
		t.Session.ClientList = names
		t.Goto(models.StageAdminClients)
	case "5":
		t.Goto(models.StageAdminRegistry)
		t.Reply(RegistryMenu)
	default:
		t.Reply(msgInvalidHub)
	}
	return nil
}

func (m *Machine) adminDeadline(ctx context.Context, t *Turn) error {
	if t.Text == "0" {
		backToHub(t)
		return nil
	}
	n, ok := parseIndex(t.Text, 3)
	if !ok || t.Session.Deadlines == nil {
		t.Reply(msgInvalidDeadline)
		return nil
	}
	detail, err := m.domain.RenderDeadlineBucket(ctx, *t.Session.Deadlines, n)
	if err != nil {
		return err
	}
	t.Reply(detail)
	return nil
}

func (m *Machine) adminStatus(ctx context.Context, t *Turn) error {
	if t.Text == "0" {
		backToHub(t)
		return nil
	}
	i, ok := parseIndex(t.Text, len(t.Session.Statuses))
	if !ok {
		t.Reply(msgInvalidStatus)
		return nil
	}
	detail, err := m.domain.OrdersByStatus(ctx, t.Session.Statuses[i-1])
	if err != nil {
		return err
	}
	t.Reply(detail)
	return nil
}

func (m *Machine) adminClients(ctx context.Context, t *Turn) error {
	if t.Text == "0" {
		backToHub(t)
		return nil
	}
	i, ok := parseIndex(t.Text, len(t.Session.ClientList))
	if !ok {
		t.Reply(msgInvalidClient)
		return nil
	}
	detail, err := m.domain.RenderClientOrders(ctx, t.Session.ClientList[i-1], models.ProfileAdmin)
	if err != nil {
		return err
	}
	t.Reply(detail)
	return nil
}

func (m *Machine) adminRegistry(ctx context.Context, t *Turn) error {
	var list func(context.Context) (string, error)
	switch t.Text {
	case "0":
		backToHub(t)
		return nil
	case "1":
		list = m.domain.ListClients
	case "2":
		list = m.domain.ListPatients
	case "3":
		list = m.domain.ListProducts
	case "4":
		list = m.domain.ListProspects
	case "5":
		list = m.domain.ListAdmins
	default:
		t.Reply(msgInvalidRegistry)
		return nil
	}
	out, err := list(ctx)
	if err != nil {
		return err
	}
	t.Reply(out)
	return nil
}
