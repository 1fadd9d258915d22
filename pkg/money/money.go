// Package money converts integer minor units into decimal major units.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a minor-unit amount tagged with its ISO currency.
type Amount struct {
	Cents    int64  `json:"amount_in_cents"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

// FromCents builds an Amount with a two-decimal display string.
func FromCents(cents int64, currency string) Amount {
	return Amount{
		Cents:    cents,
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
		Display:  Major(cents).StringFixed(2),
	}
}

// Major returns cents expressed in major units.
func Major(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// MajorFloat is Major as a float64, for metric observation.
func MajorFloat(cents int64) float64 {
	f, _ := Major(cents).Float64()
	return f
}
