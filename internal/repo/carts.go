package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/cart"
)

// CartStore implements cart.Store and cart.Catalog.
type CartStore struct {
	DB DBTX
}

const cartColumns = `id, flat_discount, promo_code_id, delivery_type_id, COALESCE(delivery_country, ''), checked_out, expires_at, created_at, updated_at`

func getCart(ctx context.Context, db DBTX, id uuid.UUID, lock bool) (cart.Cart, error) {
	sql := `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var c cart.Cart
	err := db.QueryRow(ctx, sql, id).Scan(&c.ID, &c.FlatDiscount, &c.PromoCodeID, &c.DeliveryTypeID, &c.DeliveryCountry, &c.CheckedOut, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if isNoRows(err) {
		return cart.Cart{}, cart.ErrNotFound
	}
	return c, err
}

func cartItems(ctx context.Context, db DBTX, cartID uuid.UUID) ([]cart.Item, error) {
	rows, err := db.Query(ctx, `SELECT id, cart_id, product_id, variation_id, title, quantity, unit_price, created_at
FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cart.Item
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.VariationID, &it.Title, &it.Quantity, &it.UnitPrice, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// purchasable reads the live price and stock of a product or one of its
// variations. lock takes a row lock for the surrounding transaction.
func purchasable(ctx context.Context, db DBTX, productID int64, variationID *int64, lock bool) (cart.Purchasable, error) {
	var sql string
	args := []any{productID}
	if variationID != nil {
		sql = `SELECT p.name || ' ' || v.title, COALESCE(v.discount_price, v.price), v.stock, p.active AND v.active
FROM variations v JOIN products p ON p.id = v.product_id WHERE v.product_id = $1 AND v.id = $2`
		args = append(args, *variationID)
	} else {
		sql = `SELECT p.name, p.effective_price, p.stock, p.active FROM products p WHERE p.id = $1`
	}
	if lock {
		sql += ` FOR UPDATE`
	}
	p := cart.Purchasable{ProductID: productID, VariationID: variationID}
	var active bool
	var price decimal.Decimal
	err := db.QueryRow(ctx, sql, args...).Scan(&p.Title, &price, &p.Stock, &active)
	switch {
	case isNoRows(err):
		return cart.Purchasable{}, cart.ErrNotFound
	case err != nil:
		return cart.Purchasable{}, err
	case !active:
		return cart.Purchasable{}, cart.ErrUnavailable
	}
	p.Price = price
	return p, nil
}

func (s CartStore) GetCart(ctx context.Context, id uuid.UUID) (cart.Cart, error) {
	return getCart(ctx, s.DB, id, false)
}

func (s CartStore) Items(ctx context.Context, cartID uuid.UUID) ([]cart.Item, error) {
	return cartItems(ctx, s.DB, cartID)
}

func (s CartStore) Purchasable(ctx context.Context, productID int64, variationID *int64) (cart.Purchasable, error) {
	return purchasable(ctx, s.DB, productID, variationID, false)
}

func (s CartStore) CreateCart(ctx context.Context, c cart.Cart) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO carts (id, flat_discount, promo_code_id, delivery_type_id, delivery_country, checked_out, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.FlatDiscount, c.PromoCodeID, c.DeliveryTypeID, nullString(c.DeliveryCountry), c.CheckedOut, c.ExpiresAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s CartStore) FindItem(ctx context.Context, cartID uuid.UUID, productID int64, variationID *int64) (cart.Item, error) {
	var it cart.Item
	err := s.DB.QueryRow(ctx, `SELECT id, cart_id, product_id, variation_id, title, quantity, unit_price, created_at
FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND variation_id IS NOT DISTINCT FROM $3`, cartID, productID, variationID).
		Scan(&it.ID, &it.CartID, &it.ProductID, &it.VariationID, &it.Title, &it.Quantity, &it.UnitPrice, &it.CreatedAt)
	if isNoRows(err) {
		return cart.Item{}, cart.ErrNotFound
	}
	return it, err
}

// InsertItem refuses lines for a frozen cart.
func (s CartStore) InsertItem(ctx context.Context, it cart.Item) error {
	tag, err := s.DB.Exec(ctx, `INSERT INTO cart_items (id, cart_id, product_id, variation_id, title, quantity, unit_price, created_at)
SELECT $1, c.id, $3, $4, $5, $6, $7, $8 FROM carts c WHERE c.id = $2 AND NOT c.checked_out`,
		it.ID, it.CartID, it.ProductID, it.VariationID, it.Title, it.Quantity, it.UnitPrice, it.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: line already in cart", cart.ErrInvalidInput)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.frozenOrMissing(ctx, it.CartID)
	}
	return nil
}

func (s CartStore) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error {
	tag, err := s.DB.Exec(ctx, `UPDATE cart_items i SET quantity = $3 FROM carts c
WHERE i.cart_id = c.id AND c.id = $1 AND i.id = $2 AND NOT c.checked_out`, cartID, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.frozenOrMissing(ctx, cartID)
	}
	return nil
}

func (s CartStore) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM cart_items i USING carts c
WHERE i.cart_id = c.id AND c.id = $1 AND i.id = $2 AND NOT c.checked_out`, cartID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.frozenOrMissing(ctx, cartID)
	}
	return nil
}

func (s CartStore) SetPromo(ctx context.Context, cartID uuid.UUID, promoID *int64) error {
	return s.updateCart(ctx, cartID, `promo_code_id = $2`, promoID)
}

func (s CartStore) SetDelivery(ctx context.Context, cartID uuid.UUID, typeID *int64, country string) error {
	return s.updateCart(ctx, cartID, `delivery_type_id = $2, delivery_country = $3`, typeID, nullString(country))
}

func (s CartStore) Touch(ctx context.Context, cartID uuid.UUID, expires time.Time) error {
	return s.updateCart(ctx, cartID, `expires_at = $2`, expires)
}

func (s CartStore) updateCart(ctx context.Context, cartID uuid.UUID, set string, args ...any) error {
	tag, err := s.DB.Exec(ctx, `UPDATE carts SET `+set+`, updated_at = now() WHERE id = $1 AND NOT checked_out`, append([]any{cartID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.frozenOrMissing(ctx, cartID)
	}
	return nil
}

// frozenOrMissing explains why a guarded write touched no rows.
func (s CartStore) frozenOrMissing(ctx context.Context, cartID uuid.UUID) error {
	c, err := getCart(ctx, s.DB, cartID, false)
	if err != nil {
		return err
	}
	if c.CheckedOut {
		return cart.ErrCheckedOut
	}
	return cart.ErrNotFound
}
