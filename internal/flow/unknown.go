package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/models"
)

func (m *Machine) unknownMenu(_ context.Context, t *Turn) error {
	switch t.Text {
	case "1":
		t.Goto(models.StageAwaitNameLicense)
		t.Reply(msgAskNameLicense)
	case "2":
		t.Reply(msgUnknownHandoff)
		t.End()
	default:
		t.Reply(msgInvalidUnknownMenu)
	}
	return nil
}

func (m *Machine) awaitNameLicense(ctx context.Context, t *Turn) error {
	if isExit(t.Text) {
		t.Reply(msgProspectHandoff)
		t.End()
		return nil
	}
	if !lab.ValidateNameAndLicense(t.Text) {
		t.Reply(msgInvalidNameLicense)
		return nil
	}
	if err := m.domain.RegisterProspect(ctx, t.Session.Phone, t.Text); err != nil {
		return err
	}
	slog.Info("Machine.awaitNameLicense: prospect registered", "sender", t.Session.SenderID, "phone", t.Session.Phone)
	m.metrics.ProspectRegistered()

	caption := prospectCaption(m.catalogLink)
	if len(m.catalogImage) > 0 {
		t.ReplyImage(m.catalogImage, caption)
	} else {
		t.Reply(caption)
	}
	t.End()
	return nil
}
