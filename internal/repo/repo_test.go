package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/catalog"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/promo"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// stubDB answers every QueryRow with row and every Exec with tag.
type stubDB struct {
	row     pgx.Row
	tag     pgconn.CommandTag
	execErr error
	sql     []string
	args    [][]any
}

func (s *stubDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = append(s.sql, sql)
	s.args = append(s.args, args)
	return s.tag, s.execErr
}

func (s *stubDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	s.sql = append(s.sql, sql)
	s.args = append(s.args, args)
	return s.row
}

func TestBuildWhere(t *testing.T) {
	q := catalog.Query{
		CategoryID: 3,
		Predicates: []catalog.Predicate{
			{Kind: catalog.FacetDiscrete, ParameterID: 1, IDs: []int64{11, 12}},
			{Kind: catalog.FacetForeignKey, Field: "manufacturer_id", IDs: []int64{100}},
			{Kind: catalog.FacetVariation, IDs: []int64{7}},
			{Kind: catalog.FacetRange, Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(20)},
		},
	}
	w, err := buildWhere(q)
	require.NoError(t, err)
	require.Equal(t, "p.active AND p.category_id = $1"+
		" AND EXISTS (SELECT 1 FROM product_parameter_values ppv WHERE ppv.product_id = p.id AND ppv.value_id = ANY($2))"+
		" AND p.manufacturer_id = ANY($3)"+
		" AND EXISTS (SELECT 1 FROM variations v WHERE v.product_id = p.id AND v.active AND v.value_id = ANY($4))"+
		" AND p.effective_price BETWEEN $5 AND $6", w.String())
	require.Len(t, w.args, 6)
	require.Equal(t, []int64{11, 12}, w.args[1])

	w, err = buildWhere(catalog.Query{DiscountedOnly: true})
	require.NoError(t, err)
	require.Equal(t, "p.active AND p.discount_price IS NOT NULL", w.String())
	require.Empty(t, w.args)

	_, err = buildWhere(catalog.Query{Predicates: []catalog.Predicate{{Kind: catalog.FacetForeignKey, Field: "1; DROP TABLE products"}}})
	require.Error(t, err)
}

func TestProductsSQL(t *testing.T) {
	sort, _ := catalog.Sorts(catalog.DefaultSorts).Lookup("price-desc")
	sql, args, err := productsSQL(catalog.Query{CategoryID: 1, OrderBy: sort.OrderBy(), Offset: 24, Limit: 24})
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY p.effective_price DESC, p.id LIMIT $2 OFFSET $3")
	require.Equal(t, []any{int64(1), 24, 24}, args)

	sql, _, err = productsSQL(catalog.Query{CategoryID: 1})
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY p.id")
	require.NotContains(t, sql, "LIMIT")

	_, _, err = productsSQL(catalog.Query{OrderBy: []catalog.SortField{{Column: "price; --"}}})
	require.Error(t, err)
}

func TestValueCountsSQL(t *testing.T) {
	q := catalog.Query{CategoryID: 1}
	color := catalog.Group{Key: "color", Kind: catalog.FacetDiscrete, Values: []catalog.Value{{Slug: "red", IDs: []int64{1, 2}}, {Slug: "blue", IDs: []int64{3}}}}
	sql, args, err := valueCountsSQL(q, color)
	require.NoError(t, err)
	require.Equal(t, "SELECT m.slug, count(DISTINCT p.id) FROM products p"+
		" JOIN product_parameter_values ppv ON ppv.product_id = p.id"+
		" JOIN unnest($2::bigint[], $3::text[]) AS m(id, slug) ON m.id = ppv.value_id"+
		" WHERE p.active AND p.category_id = $1 GROUP BY m.slug", sql)
	require.Equal(t, []int64{1, 2, 3}, args[1])
	require.Equal(t, []string{"red", "red", "blue"}, args[2])

	brand := catalog.Group{Key: "brand", Kind: catalog.FacetForeignKey, Field: "manufacturer_id", Values: []catalog.Value{{Slug: "acme", IDs: []int64{100}}}}
	sql, _, err = valueCountsSQL(q, brand)
	require.NoError(t, err)
	require.Contains(t, sql, "ON m.id = p.manufacturer_id")
	require.Contains(t, sql, "GROUP BY m.slug")

	size := catalog.Group{Key: "size", Kind: catalog.FacetVariation, Values: []catalog.Value{{Slug: "s", IDs: []int64{9}}}}
	sql, _, err = valueCountsSQL(q, size)
	require.NoError(t, err)
	require.Contains(t, sql, "JOIN variations v ON v.product_id = p.id AND v.active")
	require.Contains(t, sql, "count(DISTINCT p.id)")

	_, _, err = valueCountsSQL(q, catalog.Group{Key: "brand", Kind: catalog.FacetForeignKey, Field: "1; --"})
	require.Error(t, err)
	_, _, err = valueCountsSQL(q, catalog.Group{Key: catalog.PriceKey, Kind: catalog.FacetRange})
	require.Error(t, err)
}

func TestNotFoundMapping(t *testing.T) {
	ctx := context.Background()
	db := &stubDB{row: errRow{err: pgx.ErrNoRows}}

	_, err := CatalogStore{DB: db}.CategoryBySlug(ctx, "shoes")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = CatalogStore{DB: db}.ProductByArticul(ctx, 1, "SKU-1")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = CartStore{DB: db}.GetCart(ctx, uuid.New())
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = CartStore{DB: db}.Purchasable(ctx, 1, nil)
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = CountryStore{DB: db}.Country(ctx, "zz")
	require.ErrorIs(t, err, vat.ErrUnknownCountry)
	_, err = DeliveryStore{DB: db}.DeliveryType(ctx, 9)
	require.ErrorIs(t, err, delivery.ErrNotFound)
	_, err = PromoStore{DB: db}.PromoByCode(ctx, "SPRING")
	require.ErrorIs(t, err, promo.ErrNotFound)
	_, err = OrderStore{DB: db}.Get(ctx, 1)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCreateOrderDuplicateCart(t *testing.T) {
	db := &stubDB{row: errRow{err: &pgconn.PgError{Code: "23505"}}}
	o := &order.Order{CartID: uuid.New()}
	err := OrderStore{DB: db}.Create(context.Background(), o)
	require.ErrorIs(t, err, cart.ErrCheckedOut)
}

func TestMarkCheckedOutIsConditional(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	ok, err := txStore{tx: db}.MarkCheckedOut(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, db.sql[0], "AND NOT checked_out")

	db = &stubDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	ok, err = txStore{tx: db}.MarkCheckedOut(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrderSaveExpectsStatus(t *testing.T) {
	ctx := context.Background()
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	o := order.Order{ID: 5, Status: order.StatusInProgress, Paid: true}
	ok, err := OrderStore{DB: db}.Save(ctx, o, order.StatusNew)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int16(order.StatusNew), db.args[0][1])
	require.Equal(t, int16(order.StatusInProgress), db.args[0][2])

	db = &stubDB{execErr: &pgconn.PgError{Code: "40001"}}
	ok, err = OrderStore{DB: db}.Save(ctx, o, order.StatusNew)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFrozenCartRefusesWrites(t *testing.T) {
	ctx := context.Background()
	// Exec touches nothing; the follow-up read finds the cart frozen.
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 0"), row: frozenCartRow{}}
	err := CartStore{DB: db}.SetPromo(ctx, uuid.New(), nil)
	require.ErrorIs(t, err, cart.ErrCheckedOut)
}

type frozenCartRow struct{}

func (frozenCartRow) Scan(dest ...any) error {
	*(dest[5].(*bool)) = true
	return nil
}
