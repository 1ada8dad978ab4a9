package vat

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rates is the outcome of VAT resolution: the rate taken off the gross
// price and the rate charged on the resulting net price.
type Rates struct {
	Reduct decimal.Decimal `json:"reduct"`
	Apply  decimal.Decimal `json:"apply"`
}

// IsZero reports whether no VAT adjustment happens.
func (r Rates) IsZero() bool {
	return r.Reduct.IsZero() && r.Apply.IsZero()
}

// Equal compares two rate pairs numerically.
func (r Rates) Equal(o Rates) bool {
	return r.Reduct.Equal(o.Reduct) && r.Apply.Equal(o.Apply)
}

// Input carries the already looked up facts a Policy decides on.
type Input struct {
	Delivery  *Country
	VATNumber string
	Buyer     BuyerType
	Legal     *Country
}

func (in Input) hasVATNumber() bool {
	return strings.TrimSpace(in.VATNumber) != ""
}

// Policy decides the VAT treatment of a purchase.
type Policy interface {
	Resolve(in Input) Rates
}

// Merchant identifies the shop's home country and its VAT rate.
type Merchant struct {
	Country string
	VAT     decimal.Decimal
}

func (m Merchant) isHome(c *Country) bool {
	return c != nil && strings.EqualFold(c.ISO2, m.Country)
}

// OSSResolver implements the EU One-Stop-Shop decision table.
type OSSResolver struct {
	Merchant Merchant
}

// NewOSSResolver builds an OSS policy for the given merchant.
func NewOSSResolver(m Merchant) OSSResolver {
	return OSSResolver{Merchant: m}
}

func (r OSSResolver) none() Rates { return Rates{Reduct: decimal.Zero, Apply: decimal.Zero} }

func (r OSSResolver) reduce(apply decimal.Decimal) Rates {
	return Rates{Reduct: r.Merchant.VAT, Apply: apply}
}

// Resolve implements Policy.
func (r OSSResolver) Resolve(in Input) Rates {
	if in.Delivery == nil {
		return r.withoutDelivery(in)
	}
	if in.Buyer == Individual {
		return r.individual(in.Delivery)
	}
	if in.Legal != nil {
		return r.legal(in)
	}
	// company of unknown origin: no relief
	return r.none()
}

// Individuals always pay full VAT when nothing is shipped.
func (r OSSResolver) withoutDelivery(in Input) Rates {
	if in.Buyer == Legal && in.hasVATNumber() && in.Legal != nil &&
		in.Legal.Behavior == EUOSS && !r.Merchant.isHome(in.Legal) {
		return r.reduce(decimal.Zero)
	}
	return r.none()
}

func (r OSSResolver) individual(delivery *Country) Rates {
	switch {
	case r.Merchant.isHome(delivery):
		return r.none()
	case delivery.Behavior == EUOSS:
		return r.reduce(delivery.VAT)
	case delivery.Behavior == OutOfEU:
		return r.reduce(decimal.Zero)
	}
	return r.none()
}

func (r OSSResolver) legal(in Input) Rates {
	switch {
	case r.Merchant.isHome(in.Legal):
		return r.none()
	case in.Legal.Behavior == EUOSS:
		if in.hasVATNumber() {
			// reverse charge
			return r.reduce(decimal.Zero)
		}
		if in.Delivery.Behavior == EUOSS {
			return r.reduce(in.Delivery.VAT)
		}
		return r.reduce(r.Merchant.VAT)
	case in.Legal.Behavior == OutOfEU:
		if r.Merchant.isHome(in.Delivery) {
			return r.none()
		}
		return r.reduce(decimal.Zero)
	}
	return r.none()
}

// CountryPolicy applies only the per-country quick check to the legal
// country (or the delivery country when no legal country is known). It never
// applies a new rate.
type CountryPolicy struct{}

// Resolve implements Policy.
func (CountryPolicy) Resolve(in Input) Rates {
	c := in.Legal
	if c == nil {
		c = in.Delivery
	}
	if c == nil {
		return Rates{Reduct: decimal.Zero, Apply: decimal.Zero}
	}
	return Rates{Reduct: c.Reduction(in.VATNumber, in.Buyer), Apply: decimal.Zero}
}

// PolicyFor picks the policy named by mode ("oss" or "country").
func PolicyFor(mode string, m Merchant) Policy {
	if strings.EqualFold(strings.TrimSpace(mode), "country") {
		return CountryPolicy{}
	}
	return NewOSSResolver(m)
}
