package lab

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/labbot/internal/models"
)

// Identity is the result of profile identification for a sender.
type Identity struct {
	Profile models.Profile
	// Phone is the sender number reduced to digits without the country code.
	Phone string
	// DisplayName is "NOME" for admins and "Dr./Dra. NOME_CLI" for clients.
	DisplayName string
	// ClientName is NOME_CLI for clients, the key of their orders.
	ClientName string
}

// DigitsOnly strips every non-digit character.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// NormalizePhone turns a sender identifier (bare number, "+55...", or a
// WhatsApp JID) into the digit string stored in the registry.
func (l *Lab) NormalizePhone(sender string) string {
	if at := strings.IndexByte(sender, '@'); at >= 0 {
		sender = sender[:at]
	}
	// whatsmeow device suffix, e.g. 5565999990000:12
	if colon := strings.IndexByte(sender, ':'); colon >= 0 {
		sender = sender[:colon]
	}
	n := DigitsOnly(sender)
	if l.countryCode != "" && strings.HasPrefix(n, l.countryCode) {
		n = n[len(l.countryCode):]
	}
	return n
}

// IdentifyProfile checks the sender against ADM_BOT, then CLIENTES. The first
// match wins; anyone else is unknown.
func (l *Lab) IdentifyProfile(ctx context.Context, sender string) (Identity, error) {
	phone := l.NormalizePhone(sender)
	id := Identity{Profile: models.ProfileUnknown, Phone: phone}
	if phone == "" {
		return id, nil
	}

	admins, err := l.Admins(ctx)
	if err != nil {
		return Identity{}, err
	}
	for _, a := range admins {
		if DigitsOnly(a.Phone) == phone {
			id.Profile = models.ProfileAdmin
			id.DisplayName = a.Name
			slog.Debug("Lab.IdentifyProfile: admin", "phone", phone)
			return id, nil
		}
	}

	clients, err := l.Clients(ctx)
	if err != nil {
		return Identity{}, err
	}
	for _, c := range clients {
		if DigitsOnly(c.Phone) == phone {
			id.Profile = models.ProfileClient
			id.DisplayName = c.Title() + " " + c.Name
			id.ClientName = c.Name
			slog.Debug("Lab.IdentifyProfile: client", "phone", phone)
			return id, nil
		}
	}
	slog.Debug("Lab.IdentifyProfile: unknown sender", "phone", phone)
	return id, nil
}

var licensePattern = regexp.MustCompile(`^\d{3,}$`)

// ValidateNameAndLicense accepts "<name> <CRO>": at least two words, a name of
// four or more characters and a license of three or more digits.
func ValidateNameAndLicense(text string) bool {
	parts := strings.FieldsFunc(strings.TrimSpace(text), unicode.IsSpace)
	if len(parts) < 2 {
		return false
	}
	name := strings.Join(parts[:len(parts)-1], " ")
	license := parts[len(parts)-1]
	return len([]rune(name)) >= 4 && licensePattern.MatchString(license)
}
