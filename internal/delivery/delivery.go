// Package delivery prices shipping for a delivery type, a destination and a cart aggregate.
package delivery

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores when a delivery type or country is missing.
var ErrNotFound = errors.New("delivery: not found")

// Model selects the basis a delivery type is priced on.
type Model int

const (
	// FlatByQuantity prices on the total number of units in the cart.
	FlatByQuantity Model = 1
	// BySum prices on the cart subtotal before discount and VAT reduction.
	BySum Model = 2
)

// Tier is one row of a delivery price table: carts whose basis is at most UpTo pay Price.
type Tier struct {
	UpTo  decimal.Decimal `json:"upTo"`
	Price decimal.Decimal `json:"price"`
}

// Type is a configured delivery option.
type Type struct {
	ID             int64            `json:"id"`
	Title          string           `json:"title"`
	EstimatedTime  string           `json:"estimatedTime,omitempty"`
	Model          Model            `json:"model"`
	Countries      []string         `json:"countries"`
	Tiers          []Tier           `json:"tiers"`
	MinOrderAmount *decimal.Decimal `json:"minOrderAmount,omitempty"`
	MaxOrderAmount *decimal.Decimal `json:"maxOrderAmount,omitempty"`
}

// Serves reports whether the type ships to the given country.
func (t Type) Serves(iso2 string) bool {
	for _, c := range t.Countries {
		if strings.EqualFold(c, iso2) {
			return true
		}
	}
	return false
}

// SortTiers orders tiers ascending by threshold, in place.
func SortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].UpTo.LessThan(tiers[j].UpTo) })
}

// ResolveTier returns the first tier whose threshold is at or above x.
// tiers must be sorted ascending.
func ResolveTier(tiers []Tier, x decimal.Decimal) (Tier, bool) {
	for _, tier := range tiers {
		if tier.UpTo.GreaterThanOrEqual(x) {
			return tier, true
		}
	}
	return Tier{}, false
}

// Aggregate is the slice of cart state delivery pricing depends on.
type Aggregate struct {
	Quantity int
	Subtotal decimal.Decimal
}

// Basis returns the value tiers are compared against for model m.
func (a Aggregate) Basis(m Model) decimal.Decimal {
	if m == FlatByQuantity {
		return decimal.NewFromInt(int64(a.Quantity))
	}
	return a.Subtotal
}

// Availability is the state of a delivery quote.
type Availability int

const (
	Unavailable Availability = iota
	Free
	Priced
)

func (a Availability) String() string {
	switch a {
	case Free:
		return "free"
	case Priced:
		return "priced"
	default:
		return "unavailable"
	}
}

// MarshalText renders the availability by name.
func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Reason explains why a quote is unavailable.
type Reason string

const (
	ReasonCountry   Reason = "country"
	ReasonNoTier    Reason = "no_tier"
	ReasonMinAmount Reason = "min_amount"
	ReasonMaxAmount Reason = "max_amount"
)

// Quote is the result of pricing a delivery.
type Quote struct {
	Availability Availability    `json:"availability"`
	Price        decimal.Decimal `json:"price"`
	Reason       Reason          `json:"reason,omitempty"`
}

// Amount is the price to charge; zero unless the quote is priced.
func (q Quote) Amount() decimal.Decimal {
	if q.Availability != Priced {
		return decimal.Zero
	}
	return q.Price
}

// Deliverable reports whether the goods can be shipped.
func (q Quote) Deliverable() bool {
	return q.Availability != Unavailable
}

// Pricing quotes delivery for a type, destination and cart.
type Pricing interface {
	Quote(t Type, iso2 string, agg Aggregate) Quote
}

// TierPricing is the table based Pricing used by default.
type TierPricing struct{}

// Quote implements Pricing.
func (TierPricing) Quote(t Type, iso2 string, agg Aggregate) Quote {
	if !t.Serves(iso2) {
		return Quote{Availability: Unavailable, Reason: ReasonCountry}
	}
	if t.MinOrderAmount != nil && agg.Subtotal.LessThan(*t.MinOrderAmount) {
		return Quote{Availability: Unavailable, Reason: ReasonMinAmount}
	}
	if t.MaxOrderAmount != nil && agg.Subtotal.GreaterThan(*t.MaxOrderAmount) {
		return Quote{Availability: Unavailable, Reason: ReasonMaxAmount}
	}
	tier, ok := ResolveTier(t.Tiers, agg.Basis(t.Model))
	if !ok {
		return Quote{Availability: Unavailable, Reason: ReasonNoTier}
	}
	if tier.Price.IsZero() {
		return Quote{Availability: Free, Price: decimal.Zero}
	}
	return Quote{Availability: Priced, Price: tier.Price}
}
