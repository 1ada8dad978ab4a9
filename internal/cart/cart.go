package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/promo"
)

var (
	// ErrNotFound indicates the requested cart or item could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCheckedOut is returned for any mutation of a frozen cart.
	ErrCheckedOut = errors.New("cart already checked out")
	// ErrPromoDisabled is returned when promo codes are switched off.
	ErrPromoDisabled = errors.New("promo codes disabled")
	// ErrUnavailable is returned by Catalog for products that cannot be sold.
	ErrUnavailable = errors.New("product not available")
)

// StockExceededError reports that a product cannot be bought in the requested quantity.
type StockExceededError struct {
	ProductID   int64
	VariationID *int64
	Title       string
	Requested   int
	Available   int
}

func (e *StockExceededError) Error() string {
	return fmt.Sprintf("only %d of %q available, %d requested", e.Available, e.Title, e.Requested)
}

// Cart is a shopper's mutable basket.
type Cart struct {
	ID              uuid.UUID       `json:"id"`
	FlatDiscount    decimal.Decimal `json:"flatDiscount"`
	PromoCodeID     *int64          `json:"promoCodeId,omitempty"`
	DeliveryTypeID  *int64          `json:"deliveryTypeId,omitempty"`
	DeliveryCountry string          `json:"deliveryCountry,omitempty"`
	CheckedOut      bool            `json:"checkedOut"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Item is a cart line. UnitPrice and Title are captured when the line is added.
type Item struct {
	ID          uuid.UUID       `json:"id"`
	CartID      uuid.UUID       `json:"cartId"`
	ProductID   int64           `json:"productId"`
	VariationID *int64          `json:"variationId,omitempty"`
	Title       string          `json:"title"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Purchasable is the current sellable state of a product or variation.
type Purchasable struct {
	ProductID   int64
	VariationID *int64
	Title       string
	// Price is the effective unit price.
	Price decimal.Decimal
	Stock int
}

// Reader loads carts and their lines.
type Reader interface {
	GetCart(ctx context.Context, id uuid.UUID) (Cart, error)
	Items(ctx context.Context, cartID uuid.UUID) ([]Item, error)
}

// Store persists carts. Implementations return ErrNotFound for missing rows.
type Store interface {
	Reader
	CreateCart(ctx context.Context, c Cart) error
	FindItem(ctx context.Context, cartID uuid.UUID, productID int64, variationID *int64) (Item, error)
	InsertItem(ctx context.Context, it Item) error
	UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error
	SetPromo(ctx context.Context, cartID uuid.UUID, promoID *int64) error
	SetDelivery(ctx context.Context, cartID uuid.UUID, typeID *int64, country string) error
	Touch(ctx context.Context, cartID uuid.UUID, expires time.Time) error
}

// Catalog resolves what a shopper can buy.
type Catalog interface {
	Purchasable(ctx context.Context, productID int64, variationID *int64) (Purchasable, error)
}

// PromoStore looks promo codes up.
type PromoStore interface {
	PromoByCode(ctx context.Context, code string) (promo.Code, error)
	PromoByID(ctx context.Context, id int64) (promo.Code, error)
}

// DeliveryStore looks delivery types up.
type DeliveryStore interface {
	DeliveryType(ctx context.Context, id int64) (delivery.Type, error)
}
