package lab

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var brl = message.NewPrinter(language.BrazilianPortuguese)

// ParseMoney converts spreadsheet currency text such as "R$ 1.234,56" to a
// float. Blank or unparsable text counts as zero.
func ParseMoney(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case 'R', '$', ' ', '\u00a0', '\t', '.':
			return -1
		}
		return r
	}, s)
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatMoney renders v as Brazilian reais, e.g. "R$ 1.234,56" or "-R$ 50,00".
func FormatMoney(v float64) string {
	s := brl.Sprintf("%.2f", math.Abs(v))
	if v < 0 && s != "0,00" {
		return "-R$ " + s
	}
	return "R$ " + s
}

// SumMoney adds up currency texts with ParseMoney.
func SumMoney(values ...string) float64 {
	var total float64
	for _, v := range values {
		total += ParseMoney(v)
	}
	return total
}

// ParseDate parses a dd/mm/yyyy spreadsheet date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Sheets sometimes formats timestamps with a time part.
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation(dateParseLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysBetween returns the number of calendar days from a to b, each taken in
// its own location. It is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// FormatDate renders t as dd/mm/yyyy.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// orDash returns s, or an em dash placeholder when s is blank.
func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
