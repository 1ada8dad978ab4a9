package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/promo"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// CountryStore implements vat.CountryStore.
type CountryStore struct {
	DB DBTX
}

func country(ctx context.Context, db DBTX, iso2 string) (vat.Country, error) {
	iso2 = strings.ToUpper(strings.TrimSpace(iso2))
	var c vat.Country
	var behavior int16
	err := db.QueryRow(ctx, `SELECT iso2, title, vat_behavior, vat, can_invoice, sort_order FROM countries WHERE iso2 = $1`, iso2).
		Scan(&c.ISO2, &c.Title, &behavior, &c.VAT, &c.CanInvoice, &c.SortOrder)
	if isNoRows(err) {
		return vat.Country{}, fmt.Errorf("%w: %s", vat.ErrUnknownCountry, iso2)
	}
	c.Behavior = vat.Behavior(behavior)
	return c, err
}

func (s CountryStore) Country(ctx context.Context, iso2 string) (vat.Country, error) {
	return country(ctx, s.DB, iso2)
}

// Countries lists every country in display order.
func (s CountryStore) Countries(ctx context.Context) ([]vat.Country, error) {
	rows, err := s.DB.Query(ctx, `SELECT iso2, title, vat_behavior, vat, can_invoice, sort_order FROM countries ORDER BY sort_order, title`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (vat.Country, error) {
		var c vat.Country
		var behavior int16
		err := row.Scan(&c.ISO2, &c.Title, &behavior, &c.VAT, &c.CanInvoice, &c.SortOrder)
		c.Behavior = vat.Behavior(behavior)
		return c, err
	})
}

// DeliveryStore implements cart.DeliveryStore and delivery.PickupStore.
type DeliveryStore struct {
	DB DBTX
}

func deliveryType(ctx context.Context, db DBTX, id int64) (delivery.Type, error) {
	var t delivery.Type
	var model int16
	var lo, hi decimal.NullDecimal
	err := db.QueryRow(ctx, `SELECT id, title, estimated_time, model, min_order_amount, max_order_amount,
  COALESCE((SELECT array_agg(iso2 ORDER BY iso2) FROM delivery_type_countries WHERE delivery_type_id = d.id), '{}')
FROM delivery_types d WHERE id = $1 AND active`, id).
		Scan(&t.ID, &t.Title, &t.EstimatedTime, &model, &lo, &hi, &t.Countries)
	if isNoRows(err) {
		return delivery.Type{}, delivery.ErrNotFound
	}
	if err != nil {
		return delivery.Type{}, err
	}
	t.Model = delivery.Model(model)
	t.MinOrderAmount = decimalPtr(lo)
	t.MaxOrderAmount = decimalPtr(hi)

	rows, err := db.Query(ctx, `SELECT up_to, price FROM delivery_tiers WHERE delivery_type_id = $1 ORDER BY up_to`, id)
	if err != nil {
		return delivery.Type{}, err
	}
	t.Tiers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery.Tier, error) {
		var tier delivery.Tier
		err := row.Scan(&tier.UpTo, &tier.Price)
		return tier, err
	})
	if err != nil {
		return delivery.Type{}, err
	}
	return t, nil
}

func (s DeliveryStore) DeliveryType(ctx context.Context, id int64) (delivery.Type, error) {
	return deliveryType(ctx, s.DB, id)
}

// DeliveryTypes lists active types serving iso2, or all when iso2 is empty.
func (s DeliveryStore) DeliveryTypes(ctx context.Context, iso2 string) ([]delivery.Type, error) {
	rows, err := s.DB.Query(ctx, `SELECT d.id FROM delivery_types d WHERE d.active
  AND ($1 = '' OR EXISTS (SELECT 1 FROM delivery_type_countries c WHERE c.delivery_type_id = d.id AND c.iso2 = $1))
ORDER BY d.sort_order, d.id`, strings.ToUpper(iso2))
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make([]delivery.Type, 0, len(ids))
	for _, id := range ids {
		t, err := deliveryType(ctx, s.DB, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// PickupPoints lists the active pickup points of a delivery type.
func (s DeliveryStore) PickupPoints(ctx context.Context, typeID int64) ([]delivery.PickupPoint, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, delivery_type_id, title, address, zip_code, country, latitude, longitude, active
FROM pickup_points WHERE delivery_type_id = $1 AND active ORDER BY title, id`, typeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery.PickupPoint, error) {
		var p delivery.PickupPoint
		err := row.Scan(&p.ID, &p.DeliveryTypeID, &p.Title, &p.Address, &p.ZipCode, &p.Country, &p.Latitude, &p.Longitude, &p.Active)
		return p, err
	})
}

// ReplacePickupPoints deactivates the type's points and upserts the given
// ones as active. DB must not already be inside a transaction.
func (s DeliveryStore) ReplacePickupPoints(ctx context.Context, typeID int64, points []delivery.PickupPoint) error {
	starter, ok := s.DB.(interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	})
	if !ok {
		return fmt.Errorf("replace pickup points: store cannot begin a transaction")
	}
	return pgx.BeginFunc(ctx, starter, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE pickup_points SET active = false WHERE delivery_type_id = $1`, typeID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, p := range points {
			batch.Queue(`INSERT INTO pickup_points (delivery_type_id, title, address, zip_code, country, latitude, longitude, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, true)
ON CONFLICT (delivery_type_id, zip_code) DO UPDATE SET title = EXCLUDED.title, address = EXCLUDED.address,
  country = EXCLUDED.country, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, active = true`,
				typeID, p.Title, p.Address, p.ZipCode, p.Country, p.Latitude, p.Longitude)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// PromoStore implements cart.PromoStore.
type PromoStore struct {
	DB DBTX
}

func (s PromoStore) PromoByCode(ctx context.Context, code string) (promo.Code, error) {
	return s.promo(ctx, `code = $1`, code)
}

func (s PromoStore) PromoByID(ctx context.Context, id int64) (promo.Code, error) {
	return s.promo(ctx, `id = $1`, id)
}

func (s PromoStore) promo(ctx context.Context, where string, arg any) (promo.Code, error) {
	var c promo.Code
	var kind string
	err := s.DB.QueryRow(ctx, `SELECT id, code, kind, value, min_sum, active, expires_at FROM promo_codes WHERE `+where, arg).
		Scan(&c.ID, &c.Code, &kind, &c.Value, &c.MinSum, &c.Active, &c.ExpiresAt)
	if isNoRows(err) {
		return promo.Code{}, promo.ErrNotFound
	}
	c.Kind = promo.Kind(kind)
	return c, err
}
