package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/order"
)

// OrderStore implements order.Store.
type OrderStore struct {
	DB DBTX
}

const orderColumns = `id, token, cart_id, status, buyer, shipping, lines, cart_price, discount, delivery_price,
  vat_amount, vat_reduction, vat_reduct, vat_apply, promo_code, comment, payment_method, paid, payment_id, payment_log,
  created_at, updated_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	var status int16
	err := row.Scan(&o.ID, &o.Token, &o.CartID, &status, &o.Buyer, &o.Shipping, &o.Lines, &o.CartPrice, &o.Discount, &o.DeliveryPrice,
		&o.VATAmount, &o.VATReduction, &o.Rates.Reduct, &o.Rates.Apply, &o.PromoCode, &o.Comment, &o.PaymentMethod, &o.Paid, &o.PaymentID, &o.PaymentLog,
		&o.CreatedAt, &o.UpdatedAt)
	o.Status = order.Status(status)
	return o, err
}

// createOrder inserts o and sets its ID. A second order for the same cart
// is reported as cart.ErrCheckedOut.
func createOrder(ctx context.Context, db DBTX, o *order.Order) error {
	err := db.QueryRow(ctx, `INSERT INTO orders (token, cart_id, status, buyer, shipping, lines, cart_price, discount, delivery_price,
  vat_amount, vat_reduction, vat_reduct, vat_apply, promo_code, comment, payment_method, paid, payment_id, payment_log, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING id`,
		o.Token, o.CartID, int16(o.Status), o.Buyer, o.Shipping, o.Lines, o.CartPrice, o.Discount, o.DeliveryPrice,
		o.VATAmount, o.VATReduction, o.Rates.Reduct, o.Rates.Apply, o.PromoCode, o.Comment, o.PaymentMethod, o.Paid, o.PaymentID, o.PaymentLog,
		o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("order for cart %s: %w", o.CartID, cart.ErrCheckedOut)
	}
	return err
}

func (s OrderStore) Create(ctx context.Context, o *order.Order) error {
	return createOrder(ctx, s.DB, o)
}

func (s OrderStore) Get(ctx context.Context, id int64) (order.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if isNoRows(err) {
		return order.Order{}, order.ErrNotFound
	}
	return o, err
}

// Save writes the fields that change after checkout, only while the stored
// status still equals expect.
func (s OrderStore) Save(ctx context.Context, o order.Order, expect order.Status) (bool, error) {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET status = $3, paid = $4, payment_id = $5, payment_log = $6, updated_at = $7
WHERE id = $1 AND status = $2`, o.ID, int16(expect), int16(o.Status), o.Paid, o.PaymentID, o.PaymentLog, o.UpdatedAt)
	if err != nil {
		if isSerialization(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s OrderStore) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var status *int16
	if f.Status != nil {
		v := int16(*f.Status)
		status = &v
	}
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE $1::smallint IS NULL OR status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE $1::smallint IS NULL OR status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
