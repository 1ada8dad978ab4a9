package money

import "github.com/shopspring/decimal"

// RangeMin turns a lower price bound into the boundary used by price
// filters. The bound is taken up to a whole number and then pulled down a
// few units, so a multiple of ten drops by four.
//
//	47 -> 46, 50 -> 46, 45 -> 45, 49 -> 46
func RangeMin(d decimal.Decimal) decimal.Decimal {
	price := RoundUpWhole(d)
	if price.Mod(ten).IsZero() {
		return price.Sub(four)
	}
	rem := price.Mod(five).Sub(one)
	if !rem.IsPositive() {
		return price
	}
	return price.Sub(rem)
}

// RangeMax turns an upper price bound into a multiple of five at or below it.
func RangeMax(d decimal.Decimal) decimal.Decimal {
	price := RoundUpWhole(d)
	return price.Sub(price.Mod(five))
}

// RoundUpTo5Or10 lifts a value to the next multiple of five. Values already
// ending in 5 are kept; anything past 5 goes to the next ten.
func RoundUpTo5Or10(d decimal.Decimal) decimal.Decimal {
	last := d.Mod(ten)
	if last.Equal(five) {
		return d
	}
	out := d.Round(-1)
	if last.LessThan(five) && !last.IsZero() {
		out = out.Add(five)
	}
	return out
}
