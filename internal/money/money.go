// Package money holds the currency helpers shared by billing and reporting.
// Amounts are shopspring decimals with three fractional digits (millimes).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of minor-unit digits of the store currency.
const Precision = 3

// Zero is the zero amount.
var Zero = decimal.Zero

// Round rounds d to the currency precision, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// ToMinor converts d to an integer count of minor units.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(Precision).Round(0).IntPart()
}

// FromMinor converts a count of minor units back to an amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -Precision)
}

// Parse reads an amount from its string form. An empty string is zero.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// String renders d with exactly Precision fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Precision)
}

// Format renders d followed by the currency code, e.g. "3.000 TND".
func Format(d decimal.Decimal, currency string) string {
	if currency == "" {
		return String(d)
	}
	return String(d) + " " + currency
}
