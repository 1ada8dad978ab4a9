// Package order holds the order snapshot written at checkout and its
// post-checkout lifecycle: payment, cancellation and completion.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/money"
	"github.com/noah-isme/backend-eushop/internal/pricing"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

var (
	// ErrNotFound indicates the order does not exist or the token does not match.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyPaid is returned when cancelling or re-paying a paid order.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrCanceled is returned for payments against a canceled order.
	ErrCanceled = errors.New("order canceled")
	// ErrInvalidTransition is returned for status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the order lifecycle state. Values match the stored integers.
type Status int

const (
	StatusNew        Status = 1
	StatusInProgress Status = 2
	StatusCompleted  Status = 3
	StatusCanceled   Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus accepts the names produced by String.
func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "NEW":
		return StatusNew, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELED":
		return StatusCanceled, nil
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

// Buyer is who placed the order. Legal fields are empty for individuals.
type Buyer struct {
	Type        vat.BuyerType `json:"type"`
	FirstName   string        `json:"firstName"`
	LastName    string        `json:"lastName"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone,omitempty"`
	LegalName   string        `json:"legalName,omitempty"`
	RegNumber   string        `json:"regNumber,omitempty"`
	VATNumber   string        `json:"vatNumber,omitempty"`
	BankName    string        `json:"bankName,omitempty"`
	BankAccount string        `json:"bankAccount,omitempty"`
	IBAN        string        `json:"iban,omitempty"`
	Country     string        `json:"country,omitempty"`
	City        string        `json:"city,omitempty"`
	Address     string        `json:"address,omitempty"`
	ZipCode     string        `json:"zipCode,omitempty"`
}

// Shipping is where the goods go. It is empty when nothing is shipped.
type Shipping struct {
	DeliveryTypeID *int64 `json:"deliveryTypeId,omitempty"`
	DeliveryTitle  string `json:"deliveryTitle,omitempty"`
	PickupPointID  string `json:"pickupPointId,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
	Address        string `json:"address,omitempty"`
	ZipCode        string `json:"zipCode,omitempty"`
}

// Order is the checkout snapshot. Price fields are written once at creation.
type Order struct {
	ID            int64               `json:"id"`
	Token         uuid.UUID           `json:"token"`
	CartID        uuid.UUID           `json:"cartId"`
	Status        Status              `json:"status"`
	Buyer         Buyer               `json:"buyer"`
	Shipping      Shipping            `json:"shipping"`
	Lines         []pricing.LineTotal `json:"lines"`
	CartPrice     decimal.Decimal     `json:"cartPrice"`
	Discount      decimal.Decimal     `json:"discount"`
	DeliveryPrice decimal.Decimal     `json:"deliveryPrice"`
	VATAmount     decimal.Decimal     `json:"vatAmount"`
	VATReduction  decimal.Decimal     `json:"vatReduction"`
	Rates         vat.Rates           `json:"rates"`
	PromoCode     string              `json:"promoCode,omitempty"`
	Comment       string              `json:"comment,omitempty"`
	PaymentMethod string              `json:"paymentMethod"`
	Paid          bool                `json:"paid"`
	PaymentID     string              `json:"paymentId,omitempty"`
	PaymentLog    string              `json:"-"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Reference is the human-facing order number.
func (o Order) Reference() string {
	return fmt.Sprintf("QS%d", o.ID)
}

// Total is what the buyer owes.
func (o Order) Total() decimal.Decimal {
	return money.Round(o.CartPrice.Add(o.DeliveryPrice))
}

// LogLine formats one payment log entry.
func LogLine(now time.Time, msg string) string {
	return fmt.Sprintf("[%s] %s\n", now.Format("01/02/06 15:04:05"), msg)
}

// AppendLog adds a timestamped line to the payment log. Earlier lines are never rewritten.
func (o *Order) AppendLog(now time.Time, msg string) {
	o.PaymentLog += LogLine(now, msg)
}

// MarkPaid records a successful payment and moves the order into progress.
func (o *Order) MarkPaid(now time.Time, paymentID, note string) error {
	if o.Paid {
		return ErrAlreadyPaid
	}
	if o.Status == StatusCanceled {
		return ErrCanceled
	}
	o.Paid = true
	o.PaymentID = paymentID
	o.Status = StatusInProgress
	if note == "" {
		note = "Payment received"
	}
	o.AppendLog(now, note)
	o.UpdatedAt = now
	return nil
}

// Cancel is allowed only while the order is unpaid.
func (o *Order) Cancel(now time.Time) error {
	if o.Paid {
		return ErrAlreadyPaid
	}
	if o.Status == StatusCanceled {
		return nil
	}
	if o.Status == StatusCompleted {
		return ErrInvalidTransition
	}
	o.Status = StatusCanceled
	o.AppendLog(now, "Order canceled!")
	o.UpdatedAt = now
	return nil
}

// Complete closes a paid order.
func (o *Order) Complete(now time.Time) error {
	if o.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	o.Status = StatusCompleted
	o.AppendLog(now, "Order completed")
	o.UpdatedAt = now
	return nil
}

// Filter narrows an order listing.
type Filter struct {
	Status *Status
	Offset int
	Limit  int
}

// Store persists orders. Create assigns ID. Save writes the mutable fields
// (status, paid, payment id, payment log) only when the stored status still
// equals expect; it reports false when another writer got there first.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (Order, error)
	Save(ctx context.Context, o Order, expect Status) (bool, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
}
