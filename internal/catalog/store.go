package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a listing root. Path is its absolute URL path ending in "/".
type Category struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
	Path string `json:"path"`
	// DiscountsOnly lists every discounted product instead of the category's
	// own; such pages offer no facets.
	DiscountsOnly bool `json:"discountsOnly"`
}

// Product is a listing row.
type Product struct {
	ID             int64            `json:"id"`
	Slug           string           `json:"slug"`
	Articul        string           `json:"articul"`
	Name           string           `json:"name"`
	Price          decimal.Decimal  `json:"price"`
	DiscountPrice  *decimal.Decimal `json:"discountPrice,omitempty"`
	EffectivePrice decimal.Decimal  `json:"effectivePrice"`
	DisplayPrice   decimal.Decimal  `json:"displayPrice"`
	Stock          int              `json:"stock"`
	ManufacturerID *int64           `json:"manufacturerId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Effective returns the discount price when set, else the base price.
func (p Product) Effective() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// Query is a store-agnostic product query.
type Query struct {
	CategoryID     int64
	DiscountedOnly bool
	Predicates     []Predicate
	OrderBy        []SortField
	Offset         int
	Limit          int
}

// Store is the product record store the engine reads from.
type Store interface {
	CategoryBySlug(ctx context.Context, slug string) (Category, error)
	Groups(ctx context.Context, categoryID int64) ([]Group, error)
	Count(ctx context.Context, q Query) (int, error)
	Products(ctx context.Context, q Query) ([]Product, error)
	// ValueCounts returns, for group g, the number of distinct matching
	// products per value slug. A product carrying several ids merged under
	// one slug counts once.
	ValueCounts(ctx context.Context, q Query, g Group) (map[string]int, error)
	PriceBounds(ctx context.Context, q Query) (decimal.NullDecimal, decimal.NullDecimal, error)
	ProductByArticul(ctx context.Context, categoryID int64, articul string) (Product, error)
	ProductByID(ctx context.Context, id int64) (Product, Category, error)
}
