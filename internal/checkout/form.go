// Package checkout turns a cart into an order: it validates the buyer's
// form, snapshots prices, freezes the cart and hands over to payment.
package checkout

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// Field messages shown to the buyer.
const (
	MsgRequired        = "This field is required."
	MsgCannotDeliver   = "This delivery type cannot deliver to choosed country"
	MsgNotDeliverable  = "This delivery type is not available for your order."
	MsgUnknownDelivery = "Select a valid delivery type."
	MsgUnknownCountry  = "Select a valid country."
	MsgUnknownPayment  = "Select a valid payment method."
	MsgEmptyCart       = "Your cart is empty."
	MsgSoldOut         = "Someone already bought product that you are trying to buy."
)

// FieldErrors maps form fields to messages. A non-empty FieldErrors is an error.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "checkout validation failed: " + strings.Join(keys, ", ")
}

func (f FieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

// Form is the submitted checkout form. Legal fields are required for legal
// buyers; delivery fields are checked by the service.
type Form struct {
	CartID    uuid.UUID `json:"-"`
	BuyerType string    `json:"buyerType" validate:"required,oneof=individual legal"`
	FirstName string    `json:"firstName" validate:"required,max=100"`
	LastName  string    `json:"lastName" validate:"required,max=100"`
	Email     string    `json:"email" validate:"required,email"`
	Phone     string    `json:"phone" validate:"max=40"`

	LegalName    string `json:"legalName" validate:"required_if=BuyerType legal,max=200"`
	RegNumber    string `json:"regNumber" validate:"required_if=BuyerType legal,max=50"`
	VATNumber    string `json:"vatNumber" validate:"max=30"`
	BankName     string `json:"bankName" validate:"required_if=BuyerType legal,max=100"`
	BankAccount  string `json:"bankAccount" validate:"required_if=BuyerType legal,max=50"`
	IBAN         string `json:"iban" validate:"required_if=BuyerType legal,max=34"`
	LegalCountry string `json:"legalCountry" validate:"required_if=BuyerType legal"`
	LegalCity    string `json:"legalCity" validate:"required_if=BuyerType legal,max=100"`
	LegalAddress string `json:"legalAddress" validate:"required_if=BuyerType legal,max=200"`
	LegalZip     string `json:"legalZip" validate:"required_if=BuyerType legal,max=20"`

	DeliveryTypeID *int64 `json:"deliveryTypeId"`
	PickupPointID  string `json:"pickupPointId" validate:"max=64"`
	Country        string `json:"country"`
	City           string `json:"city" validate:"max=100"`
	Address        string `json:"address" validate:"max=200"`
	Zip            string `json:"zip" validate:"max=20"`

	PaymentMethod string `json:"paymentMethod" validate:"required"`
	Comment       string `json:"comment" validate:"max=1000"`
	IAgree        bool   `json:"iAgree" validate:"eq=true"`
}

func (f *Form) normalize() {
	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	for _, s := range []*string{
		&f.BuyerType, &f.FirstName, &f.LastName, &f.Email, &f.Phone,
		&f.LegalName, &f.RegNumber, &f.VATNumber, &f.BankName, &f.BankAccount, &f.IBAN,
		&f.LegalCountry, &f.LegalCity, &f.LegalAddress, &f.LegalZip,
		&f.PickupPointID, &f.Country, &f.City, &f.Address, &f.Zip,
		&f.PaymentMethod, &f.Comment,
	} {
		trim(s)
	}
	f.BuyerType = strings.ToLower(f.BuyerType)
	f.LegalCountry = strings.ToUpper(f.LegalCountry)
	f.Country = strings.ToUpper(f.Country)
	f.IBAN = strings.ToUpper(strings.ReplaceAll(f.IBAN, " ", ""))
}

func (f Form) buyer() vat.BuyerType {
	return vat.ParseBuyerType(f.BuyerType)
}

func (f Form) wantsDelivery(required bool) bool {
	return required || f.DeliveryTypeID != nil
}

func (f Form) orderBuyer() order.Buyer {
	b := order.Buyer{
		Type:      f.buyer(),
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Phone:     f.Phone,
		VATNumber: f.VATNumber,
	}
	if b.Type == vat.Legal {
		b.LegalName = f.LegalName
		b.RegNumber = f.RegNumber
		b.BankName = f.BankName
		b.BankAccount = f.BankAccount
		b.IBAN = f.IBAN
		b.Country = f.LegalCountry
		b.City = f.LegalCity
		b.Address = f.LegalAddress
		b.ZipCode = f.LegalZip
	}
	return b
}

// Store is the transactional view checkout reads and writes through.
type Store interface {
	cart.Reader
	// Purchasable reads current stock, locking the row for the transaction.
	Purchasable(ctx context.Context, productID int64, variationID *int64) (cart.Purchasable, error)
	DeliveryType(ctx context.Context, id int64) (delivery.Type, error)
	Country(ctx context.Context, iso2 string) (vat.Country, error)
	CreateOrder(ctx context.Context, o *order.Order) error
	// MarkCheckedOut freezes the cart; false means it was already frozen.
	MarkCheckedOut(ctx context.Context, cartID uuid.UUID) (bool, error)
}

// Transactor runs fn inside one database transaction, committing when fn
// returns nil and rolling back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// deliveryOverride presents the cart with the delivery chosen on the form.
type deliveryOverride struct {
	cart.Reader
	typeID  *int64
	country string
}

func (d deliveryOverride) GetCart(ctx context.Context, id uuid.UUID) (cart.Cart, error) {
	c, err := d.Reader.GetCart(ctx, id)
	if err != nil {
		return c, err
	}
	c.DeliveryTypeID = d.typeID
	c.DeliveryCountry = d.country
	return c, nil
}
