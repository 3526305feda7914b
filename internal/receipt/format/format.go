// Package format provides pure display formatting for receipt field values:
// CNPJ grouping, minor-unit currency rendering and date conversion. Functions
// here keep no state and touch no store; they validate input and nothing else.
package format

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// printer renders numbers with pt-BR grouping and decimal separators.
var printer = message.NewPrinter(language.BrazilianPortuguese)

// cnpjPlaceholder is shown for records whose tax ID has not arrived yet.
const cnpjPlaceholder = "00.000.000/0000-00"

// CNPJ formats a 14-digit Brazilian tax ID as XX.XXX.XXX/XXXX-XX.
// Non-digit characters in the input are ignored. An empty input returns the
// all-zero placeholder; any other length is an error.
func CNPJ(raw string) (string, error) {
	if raw == "" {
		return cnpjPlaceholder, nil
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if len(d) != 14 {
		return "", fmt.Errorf("cnpj must contain 14 digits, got %d", len(d))
	}

	return fmt.Sprintf("%s.%s.%s/%s-%s", d[0:2], d[2:5], d[5:8], d[8:12], d[12:14]), nil
}

// Currency formats a value in minor units (cents) as a localized BRL string,
// e.g. 10500 -> "R$ 105,00".
func Currency(cents int64) string {
	v := float64(cents) / 100
	return printer.Sprintf("R$ %v", number.Decimal(v,
		number.MinFractionDigits(2),
		number.MaxFractionDigits(2),
	))
}

// dateLayouts are the accepted input layouts, checked in order. The backend
// emits ISO dates; user edits may arrive in the display layout.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
}

// displayDateLayout is the Brazilian display format.
const displayDateLayout = "02/01/2006"

// ParseDate parses a date string in any accepted layout.
func ParseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", raw)
}

// Date formats a date string for display as DD/MM/YYYY.
func Date(raw string) (string, error) {
	t, err := ParseDate(raw)
	if err != nil {
		return "", err
	}
	return t.Format(displayDateLayout), nil
}
