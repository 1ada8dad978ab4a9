package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/checkout"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Transactor implements checkout.Transactor.
type Transactor struct {
	DB TxBeginner
}

// WithinTx runs fn in a read committed transaction. Rows read for update
// stay locked until commit.
func (t Transactor) WithinTx(ctx context.Context, fn func(checkout.Store) error) error {
	if t.DB == nil {
		return fmt.Errorf("checkout tx: database not configured")
	}
	tx, err := t.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("checkout tx: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()
	if err := fn(txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("checkout tx: commit: %w", err)
	}
	return nil
}

// txStore is checkout.Store bound to one transaction.
type txStore struct {
	tx DBTX
}

// GetCart locks the cart row so concurrent checkouts queue behind us.
func (s txStore) GetCart(ctx context.Context, id uuid.UUID) (cart.Cart, error) {
	return getCart(ctx, s.tx, id, true)
}

func (s txStore) Items(ctx context.Context, cartID uuid.UUID) ([]cart.Item, error) {
	return cartItems(ctx, s.tx, cartID)
}

func (s txStore) Purchasable(ctx context.Context, productID int64, variationID *int64) (cart.Purchasable, error) {
	return purchasable(ctx, s.tx, productID, variationID, true)
}

func (s txStore) DeliveryType(ctx context.Context, id int64) (delivery.Type, error) {
	return deliveryType(ctx, s.tx, id)
}

func (s txStore) Country(ctx context.Context, iso2 string) (vat.Country, error) {
	return country(ctx, s.tx, iso2)
}

func (s txStore) CreateOrder(ctx context.Context, o *order.Order) error {
	return createOrder(ctx, s.tx, o)
}

func (s txStore) MarkCheckedOut(ctx context.Context, cartID uuid.UUID) (bool, error) {
	tag, err := s.tx.Exec(ctx, `UPDATE carts SET checked_out = true, updated_at = now() WHERE id = $1 AND NOT checked_out`, cartID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
