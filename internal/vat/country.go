// Package vat resolves how much VAT is taken off a price and which rate is
// charged instead, for cross-border EU sales.
package vat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownCountry is returned by country stores for codes they do not hold.
var ErrUnknownCountry = errors.New("vat: unknown country")

// Behavior classifies how a delivery country is treated for VAT.
type Behavior int

const (
	NothingToDo   Behavior = 1
	MinusLegal    Behavior = 2
	MinusLegalVAT Behavior = 3
	EUOSS         Behavior = 4
	OutOfEU       Behavior = 5
)

var behaviorNames = map[Behavior]string{
	NothingToDo:   "NOTHING_TO_DO",
	MinusLegal:    "MINUS_LEGAL",
	MinusLegalVAT: "MINUS_LEGAL_VAT",
	EUOSS:         "EU_OSS",
	OutOfEU:       "OUT_OF_EU",
}

func (b Behavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Behavior(%d)", int(b))
}

// ParseBehavior accepts either the numeric code or the symbolic name.
func ParseBehavior(s string) (Behavior, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for b, name := range behaviorNames {
		if s == name || s == fmt.Sprint(int(b)) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown vat behavior %q", s)
}

// BuyerType distinguishes private persons from companies.
type BuyerType int

const (
	Individual BuyerType = iota
	Legal
)

func (t BuyerType) String() string {
	if t == Legal {
		return "legal"
	}
	return "individual"
}

func (t BuyerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *BuyerType) UnmarshalText(b []byte) error {
	*t = ParseBuyerType(string(b))
	return nil
}

// ParseBuyerType maps form values to a BuyerType. Unknown values are individuals.
func ParseBuyerType(s string) BuyerType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legal", "1", "company":
		return Legal
	default:
		return Individual
	}
}

// Country is delivery reference data.
type Country struct {
	ISO2       string
	Title      string
	Behavior   Behavior
	VAT        decimal.Decimal // fraction, 0.21 for 21%
	CanInvoice bool
	SortOrder  int
}

// Reduction is the quick per-country check: companies buying in this
// country get this country's VAT removed when the country says so.
func (c Country) Reduction(vatNumber string, buyer BuyerType) decimal.Decimal {
	if buyer != Legal {
		return decimal.Zero
	}
	switch c.Behavior {
	case MinusLegal:
		return c.VAT
	case MinusLegalVAT:
		if strings.TrimSpace(vatNumber) != "" {
			return c.VAT
		}
	}
	return decimal.Zero
}

// ReductionByCode runs Reduction for the country with the given code.
// Unknown codes yield zero.
func ReductionByCode(countries []Country, iso2, vatNumber string, buyer BuyerType) decimal.Decimal {
	iso2 = strings.ToUpper(strings.TrimSpace(iso2))
	for _, c := range countries {
		if strings.EqualFold(c.ISO2, iso2) {
			return c.Reduction(vatNumber, buyer)
		}
	}
	return decimal.Zero
}
