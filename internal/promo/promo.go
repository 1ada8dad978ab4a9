// Package promo validates promo codes and derives the discount percent they grant.
package promo

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no promo code matches.
	ErrNotFound = errors.New("promo code not found")
	// ErrInactive is returned for disabled codes.
	ErrInactive = errors.New("promo code not active")
	// ErrExpired is returned once the expiry has passed.
	ErrExpired = errors.New("promo code expired")
	// ErrMinimumSumUnmet means the cart subtotal does not exceed the code's minimum sum.
	ErrMinimumSumUnmet = errors.New("promo code minimum sum not reached")
)

// Kind tells how Value is read.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

// Code is a promo code as configured by the shop.
type Code struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Kind      Kind            `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	MinSum    decimal.Decimal `json:"minSum"`
	Active    bool            `json:"active"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Normalize canonicalises user input before lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the code against the cart subtotal before discount and
// VAT reduction. The subtotal has to be strictly greater than MinSum.
func (c Code) Validate(now time.Time, subtotal decimal.Decimal) error {
	if !c.Active {
		return ErrInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrExpired
	}
	if !subtotal.GreaterThan(c.MinSum) {
		return ErrMinimumSumUnmet
	}
	return nil
}

// Eligible is Validate without the reason.
func (c Code) Eligible(now time.Time, subtotal decimal.Decimal) bool {
	return c.Validate(now, subtotal) == nil
}

// Percent is the discount percent (0-100) the code grants on subtotal.
// Fixed amounts are turned into a percent of subtotal, capped at 100.
func (c Code) Percent(subtotal decimal.Decimal) decimal.Decimal {
	var p decimal.Decimal
	switch c.Kind {
	case KindFixed:
		if !subtotal.IsPositive() {
			return decimal.Zero
		}
		p = c.Value.Mul(hundred).Div(subtotal)
	default:
		p = c.Value
	}
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
