package flow

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/models"
)

// cancelOrder discards the draft and returns the client to the menu.
func cancelOrder(t *Turn, msg string) {
	t.Session.ClearScratch()
	t.Goto(models.StageClientMenu)
	t.Reply(msg)
}

// offerCatalog fetches the current catalog, stashes it for index lookup and
// asks for a product. An empty catalog cancels the order.
func (m *Machine) offerCatalog(ctx context.Context, t *Turn) error {
	products, err := m.domain.Products(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		slog.Warn("Machine.offerCatalog: empty catalog", "sender", t.Session.SenderID)
		cancelOrder(t, msgEmptyCatalog)
		return nil
	}
	t.Session.Products = products
	t.Goto(models.StageOrderProduct)
	t.Reply(catalogPrompt(lab.RenderCatalog(products), true))
	return nil
}

func (m *Machine) clientMenu(ctx context.Context, t *Turn) error {
	switch t.Text {
	case "1":
		out, err := m.domain.RenderClientOrders(ctx, t.Session.ClientName, models.ProfileClient)
		if err != nil {
			return err
		}
		t.Reply(out)
	case "2":
		t.Session.Order = &models.OrderDraft{}
		t.Goto(models.StageOrderPatient)
		t.Reply(msgAskPatient)
	case "3":
		t.Reply(msgClientHandoff)
		t.End()
	default:
		t.Reply(msgInvalidClientMenu)
	}
	return nil
}

func (m *Machine) orderPatient(ctx context.Context, t *Turn) error {
	if isExit(t.Text) {
		cancelOrder(t, msgOrderCancelled)
		return nil
	}
	t.Session.Order.PatientName = t.Text
	return m.offerCatalog(ctx, t)
}

func (m *Machine) orderProduct(_ context.Context, t *Turn) error {
	if isExit(t.Text) {
		cancelOrder(t, msgOrderCancelled)
		return nil
	}
	i, ok := parseIndex(t.Text, len(t.Session.Products))
	if !ok {
		t.Reply(msgInvalidProduct)
		return nil
	}
	product := t.Session.Products[i-1].Name
	t.Session.CurrentItem = &models.OrderItem{Product: product}
	t.Goto(models.StageOrderQuantity)
	t.Reply(quantityPrompt(product))
	return nil
}

func (m *Machine) orderQuantity(ctx context.Context, t *Turn) error {
	if isExit(t.Text) {
		cancelOrder(t, msgOrderCancelled)
		return nil
	}
	qty, err := strconv.Atoi(t.Text)
	if err != nil || qty < 1 {
		t.Reply(msgInvalidQuantity)
		return nil
	}
	item := t.Session.CurrentItem
	price, err := m.domain.ResolveCatalogPrice(ctx, item.Product)
	if err != nil {
		return err
	}
	item.Quantity = qty
	item.CatalogPrice = price
	t.Goto(models.StageOrderColor)
	t.Reply(msgAskColor)
	return nil
}

func (m *Machine) orderColor(_ context.Context, t *Turn) error {
	if isExit(t.Text) {
		cancelOrder(t, msgOrderCancelled)
		return nil
	}
	t.Session.CurrentItem.Color = t.Text
	t.Goto(models.StageOrderItemMenu)
	t.Reply(itemAdded(t.Session.CurrentItem))
	return nil
}

// orderItemMenu does not honor "sair"; option 4 cancels from here on.
func (m *Machine) orderItemMenu(ctx context.Context, t *Turn) error {
	sess := t.Session
	switch t.Text {
	case "1":
		t.Goto(models.StageOrderNote)
		t.Reply(msgAskNote)
	case "2":
		sess.Order.Items = append(sess.Order.Items, *sess.CurrentItem)
		sess.CurrentItem = nil
		return m.offerCatalog(ctx, t)
	case "3":
		draft := *sess.Order
		draft.Items = append(append([]models.OrderItem(nil), sess.Order.Items...), *sess.CurrentItem)
		n, err := m.domain.SaveOrder(ctx, sess.ClientName, draft)
		if err != nil {
			return err
		}
		slog.Info("Machine.orderItemMenu: order saved", "sender", sess.SenderID, "order", n, "items", len(draft.Items))
		m.metrics.OrderSaved()
		sess.ClearScratch()
		t.Goto(models.StageClientMenu)
		t.Reply(orderSaved(n))
	case "4":
		cancelOrder(t, msgOrderCancelled)
	default:
		t.Reply(msgInvalidItemMenu)
	}
	return nil
}

// orderNote takes any text as the note, "sair" included.
func (m *Machine) orderNote(_ context.Context, t *Turn) error {
	t.Session.CurrentItem.Note = t.Text
	t.Goto(models.StageOrderItemMenu)
	t.Reply(noteAdded(t.Session.CurrentItem))
	return nil
}
