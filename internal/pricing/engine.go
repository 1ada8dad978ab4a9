// Package pricing computes line and cart totals: discounts, VAT, VAT
// reduction for cross-border sales and delivery.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/money"
	"github.com/noah-isme/backend-eushop/internal/promo"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// Line is one cart row with its add-time unit price.
type Line struct {
	ItemID      string          `json:"itemId"`
	ProductID   int64           `json:"productId"`
	VariationID *int64          `json:"variationId,omitempty"`
	Title       string          `json:"title"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Input is everything Compute needs. It holds plain values only.
type Input struct {
	Lines []Line
	// VAT is the merchant rate contained in unit prices, as a fraction.
	VAT   decimal.Decimal
	Rates vat.Rates
	// FlatDiscount is the cart level discount used when promo codes are off.
	FlatDiscount decimal.Decimal
	PromoEnabled bool
	Promo        *promo.Code
	Delivery     decimal.Decimal
	Now          time.Time
}

// LineTotal is a priced line.
type LineTotal struct {
	Line
	DiscountPercent         decimal.Decimal `json:"discountPercent"`
	SingleDiscount          decimal.Decimal `json:"singleDiscount"`
	SinglePriceWithDiscount decimal.Decimal `json:"singlePriceWithDiscount"`
	PriceWithoutVAT         decimal.Decimal `json:"priceWithoutVat"`
	VATPerUnit              decimal.Decimal `json:"vatPerUnit"`
	TotalWithoutDiscount    decimal.Decimal `json:"totalWithoutDiscount"`
	TotalDiscount           decimal.Decimal `json:"totalDiscount"`
	// Total is the discounted line total at the merchant rate.
	Total decimal.Decimal `json:"total"`
	// VAT is the merchant VAT inside Total.
	VAT decimal.Decimal `json:"vat"`
	// Reduction is what the VAT reduction took off Total.
	Reduction decimal.Decimal `json:"reduction"`
	// NewVAT is VAT charged at the applied rate after a reduction.
	NewVAT decimal.Decimal `json:"newVat"`
	// Final is what the buyer pays for the line.
	Final decimal.Decimal `json:"final"`
}

// Summary is a priced cart.
type Summary struct {
	Lines        []LineTotal     `json:"lines"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	PromoApplied bool            `json:"promoApplied"`
	PromoPercent decimal.Decimal `json:"promoPercent"`
	Rates        vat.Rates       `json:"rates"`
	VAT          decimal.Decimal `json:"vat"`
	VATReduction decimal.Decimal `json:"vatReduction"`
	Items        decimal.Decimal `json:"items"`
	Delivery     decimal.Decimal `json:"delivery"`
	Total        decimal.Decimal `json:"total"`
}

// basis holds values derived once per computation. A new Input means a new
// basis; nothing here outlives a Compute call.
type basis struct {
	subtotal     decimal.Decimal
	quantity     int
	percent      decimal.Decimal
	promoApplied bool
	vatDivisor   decimal.Decimal
	reductDiv    decimal.Decimal
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func newBasis(in Input) basis {
	b := basis{
		subtotal:   decimal.Zero,
		percent:    decimal.Zero,
		vatDivisor: one.Add(in.VAT),
		reductDiv:  one.Add(in.Rates.Reduct),
	}
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			continue
		}
		b.quantity += l.Quantity
		b.subtotal = b.subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	if in.PromoEnabled && in.Promo != nil && in.Promo.Eligible(in.Now, b.subtotal) {
		b.promoApplied = true
		b.percent = in.Promo.Percent(b.subtotal)
	}
	return b
}

// SubtotalOf is the pre-discount, pre-reduction subtotal of lines.
func SubtotalOf(lines []Line) decimal.Decimal {
	return newBasis(Input{Lines: lines}).subtotal
}

// Compute prices the cart. It is pure: the same Input always yields the same Summary.
func Compute(in Input) Summary {
	b := newBasis(in)
	s := Summary{
		Lines:        make([]LineTotal, 0, len(in.Lines)),
		Quantity:     b.quantity,
		Subtotal:     money.Round(b.subtotal),
		Discount:     decimal.Zero,
		PromoApplied: b.promoApplied,
		PromoPercent: b.percent,
		Rates:        in.Rates,
		VAT:          decimal.Zero,
		VATReduction: decimal.Zero,
		Items:        decimal.Zero,
		Delivery:     money.Round(in.Delivery),
	}
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			continue
		}
		lt := b.line(l, in.Rates)
		s.Lines = append(s.Lines, lt)
		s.Discount = s.Discount.Add(lt.TotalDiscount)
		s.VATReduction = s.VATReduction.Add(lt.Reduction)
		s.Items = s.Items.Add(lt.Final)
		if in.Rates.Reduct.IsZero() {
			s.VAT = s.VAT.Add(lt.VAT)
		} else {
			s.VAT = s.VAT.Add(lt.NewVAT)
		}
	}
	if !in.PromoEnabled && in.FlatDiscount.IsPositive() {
		flat := money.Round(in.FlatDiscount)
		if flat.GreaterThan(s.Items) {
			flat = s.Items
		}
		s.Discount = flat
		s.Items = s.Items.Sub(flat)
	}
	s.Discount = money.Round(s.Discount)
	s.Items = money.Round(s.Items)
	s.VAT = money.Round(s.VAT)
	s.VATReduction = money.Round(s.VATReduction)
	s.Total = money.Round(s.Items.Add(s.Delivery))
	return s
}

func (b basis) line(l Line, rates vat.Rates) LineTotal {
	qty := decimal.NewFromInt(int64(l.Quantity))
	singleDiscount := l.UnitPrice.Mul(b.percent).Div(hundred)
	withDiscount := l.UnitPrice.Sub(singleDiscount)
	priceWithoutVAT := money.Round(withDiscount.Div(b.vatDivisor))
	// VAT is taken from the unrounded discounted price; only the per-unit
	// display value is rounded.
	vatPerUnit := withDiscount.Sub(priceWithoutVAT)
	total := money.Round(withDiscount.Mul(qty))

	lt := LineTotal{
		Line:                    l,
		DiscountPercent:         b.percent,
		SingleDiscount:          money.Round(singleDiscount),
		SinglePriceWithDiscount: money.Round(withDiscount),
		PriceWithoutVAT:         priceWithoutVAT,
		VATPerUnit:              money.Round(vatPerUnit),
		TotalWithoutDiscount:    money.Round(l.UnitPrice.Mul(qty)),
		TotalDiscount:           money.Round(singleDiscount.Mul(qty)),
		Total:                   total,
		VAT:                     vatPerUnit.Mul(qty),
		Reduction:               decimal.Zero,
		NewVAT:                  decimal.Zero,
		Final:                   total,
	}
	if rates.Reduct.IsZero() {
		return lt
	}
	net := money.Round(withDiscount.Div(b.reductDiv))
	netTotal := net.Mul(qty)
	lt.Reduction = total.Sub(netTotal)
	lt.NewVAT = money.Round(net.Mul(rates.Apply).Mul(qty))
	lt.Final = netTotal.Add(lt.NewVAT)
	return lt
}

// DisplayPrice is a single unit price as shown to a buyer with the given rates.
func DisplayPrice(price decimal.Decimal, rates vat.Rates) decimal.Decimal {
	if rates.Reduct.IsZero() {
		return money.Round(price)
	}
	net := money.Round(price.Div(one.Add(rates.Reduct)))
	return money.Round(net.Add(net.Mul(rates.Apply)))
}
