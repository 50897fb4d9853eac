package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit decimal amount (e.g. "1500.50") into the smallest currency unit.
// Amounts with sub-minor precision are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount.String())
	}
	return minor.IntPart(), nil
}

// ParseMinorUnits parses a major-unit string into the smallest currency unit.
func ParseMinorUnits(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return MinorUnits(amount)
}

// PercentOf returns rate percent of amount in minor units, rounding half away from zero.
func PercentOf(amount int64, rate decimal.Decimal) int64 {
	if amount == 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Round(0).IntPart()
}

// FormatMinor renders a minor-unit amount in major units for notes and logs.
func FormatMinor(amount int64, currency string) string {
	major := decimal.New(amount, -2).StringFixed(2)
	if currency == "" {
		return major
	}
	return strings.ToUpper(currency) + " " + major
}
