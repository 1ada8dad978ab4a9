// Package money holds the decimal rounding rules shared by pricing, tax and catalog code.
package money

import "github.com/shopspring/decimal"

// Money is a monetary amount in the shop currency.
type Money = decimal.Decimal

// Places is the number of fractional digits kept for stored amounts.
const Places = 2

var (
	ten  = decimal.NewFromInt(10)
	five = decimal.NewFromInt(5)
	four = decimal.NewFromInt(4)
	one  = decimal.NewFromInt(1)
	hund = decimal.NewFromInt(100)
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Round quantizes d to two places, halves rounded away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// RoundUpWhole rounds to a whole number away from zero.
func RoundUpWhole(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Floor()
	}
	return d.Ceil()
}

// FromCents converts minor units to an amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-Places)
}

// Cents converts an amount to minor units after rounding.
func Cents(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// Percent expresses a fraction (0.21) as a percentage (21).
func Percent(fraction decimal.Decimal) decimal.Decimal {
	return fraction.Mul(hund)
}

// Fraction expresses a percentage (21) as a fraction (0.21).
func Fraction(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hund)
}

// Parse reads a decimal string, returning Zero for empty input.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return Zero, nil
	}
	return decimal.NewFromString(s)
}

// Max returns the larger amount.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
