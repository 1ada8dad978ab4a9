package vat

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Profile is what the host application knows about the current buyer.
type Profile struct {
	Authenticated   bool
	Buyer           BuyerType
	LegalCountry    string
	DeliveryCountry string
	VATNumber       string
}

type profileKey struct{}

// WithProfile stores the buyer profile on ctx.
func WithProfile(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

// ProfileFrom returns the buyer profile, or an anonymous one.
func ProfileFrom(ctx context.Context) Profile {
	if ctx == nil {
		return Profile{}
	}
	p, _ := ctx.Value(profileKey{}).(Profile)
	return p
}

// Headers set by the upstream auth gateway for signed-in buyers.
const (
	HeaderBuyerType       = "X-Buyer-Type"
	HeaderLegalCountry    = "X-Buyer-Legal-Country"
	HeaderDeliveryCountry = "X-Buyer-Delivery-Country"
	HeaderVATNumber       = "X-Buyer-VAT-Number"
)

// ProfileMiddleware lifts buyer headers into the request context.
func ProfileMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := strings.TrimSpace(r.Header.Get(HeaderBuyerType))
		if kind == "" {
			next.ServeHTTP(w, r)
			return
		}
		p := Profile{
			Authenticated:   true,
			Buyer:           ParseBuyerType(kind),
			LegalCountry:    strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderLegalCountry))),
			DeliveryCountry: strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderDeliveryCountry))),
			VATNumber:       strings.TrimSpace(r.Header.Get(HeaderVATNumber)),
		}
		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), p)))
	})
}

// CountryLocator maps a request to an ISO2 country code, "" when unknown.
type CountryLocator interface {
	CountryCode(r *http.Request) string
}

// CountryStore looks up delivery countries by ISO2 code.
type CountryStore interface {
	Country(ctx context.Context, iso2 string) (Country, error)
}

// Guesser resolves rates for a request before the buyer has told us where
// the goods go. The delivery country is the buyer's saved one, else the
// geolocated one, else the merchant's.
type Guesser struct {
	Countries CountryStore
	Locator   CountryLocator
	Policy    Policy
	Merchant  Merchant
	Logger    zerolog.Logger
}

// ForRequest never fails. Lookup problems fall back to no adjustment.
func (g Guesser) ForRequest(r *http.Request) Rates {
	none := Rates{Reduct: decimal.Zero, Apply: decimal.Zero}
	if r == nil || g.Policy == nil || g.Countries == nil {
		return none
	}
	ctx := r.Context()
	ipCountry := ""
	if g.Locator != nil {
		ipCountry = g.Locator.CountryCode(r)
	}
	p := ProfileFrom(ctx)

	in := Input{Buyer: Individual}
	deliveryCode := firstNonEmpty(ipCountry, g.Merchant.Country)
	if p.Authenticated {
		in.Buyer = p.Buyer
		in.VATNumber = p.VATNumber
		deliveryCode = firstNonEmpty(p.DeliveryCountry, ipCountry, g.Merchant.Country)
		if p.Buyer == Legal {
			legal, err := g.Countries.Country(ctx, firstNonEmpty(p.LegalCountry, ipCountry, g.Merchant.Country))
			if err != nil {
				g.Logger.Warn().Err(err).Msg("vat guess: legal country lookup")
				return none
			}
			in.Legal = &legal
		}
	}
	delivery, err := g.Countries.Country(ctx, deliveryCode)
	if err != nil {
		g.Logger.Warn().Err(err).Str("country", deliveryCode).Msg("vat guess: delivery country lookup")
		return none
	}
	in.Delivery = &delivery
	return g.Policy.Resolve(in)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}
