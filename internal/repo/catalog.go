package repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/catalog"
)

// CatalogStore implements catalog.Store.
type CatalogStore struct {
	DB DBTX
}

const productColumns = `p.id, p.slug, p.articul, p.name, p.price, p.discount_price, p.effective_price, p.stock, p.manufacturer_id, p.created_at`

// sortColumns whitelists the columns a listing may be sorted on.
var sortColumns = map[string]string{
	catalog.ColumnID:             "p.id",
	catalog.ColumnEffectivePrice: "p.effective_price",
	"sort_order":                 "p.sort_order",
	"name":                       "p.name",
	"created_at":                 "p.created_at",
}

// foreignKeys maps a foreign key facet field to the table holding its values.
var foreignKeys = map[string]string{
	"manufacturer_id": "manufacturers",
}

type sqlWhere struct {
	clauses []string
	args    []any
}

func (w *sqlWhere) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *sqlWhere) add(clause string) { w.clauses = append(w.clauses, clause) }

func (w *sqlWhere) String() string { return strings.Join(w.clauses, " AND ") }

func buildWhere(q catalog.Query) (*sqlWhere, error) {
	w := &sqlWhere{}
	w.add("p.active")
	if q.DiscountedOnly {
		w.add("p.discount_price IS NOT NULL")
	} else {
		w.add("p.category_id = " + w.arg(q.CategoryID))
	}
	for _, pred := range q.Predicates {
		switch pred.Kind {
		case catalog.FacetRange:
			w.add(fmt.Sprintf("p.effective_price BETWEEN %s AND %s", w.arg(pred.Min), w.arg(pred.Max)))
		case catalog.FacetForeignKey:
			if _, ok := foreignKeys[pred.Field]; !ok {
				return nil, fmt.Errorf("catalog query: unsupported field %q", pred.Field)
			}
			w.add(fmt.Sprintf("p.%s = ANY(%s)", pred.Field, w.arg(pred.IDs)))
		case catalog.FacetVariation:
			w.add("EXISTS (SELECT 1 FROM variations v WHERE v.product_id = p.id AND v.active AND v.value_id = ANY(" + w.arg(pred.IDs) + "))")
		default:
			w.add("EXISTS (SELECT 1 FROM product_parameter_values ppv WHERE ppv.product_id = p.id AND ppv.value_id = ANY(" + w.arg(pred.IDs) + "))")
		}
	}
	return w, nil
}

func buildOrderBy(fields []catalog.SortField) (string, error) {
	if len(fields) == 0 {
		return "p.id", nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, ok := sortColumns[f.Column]
		if !ok {
			return "", fmt.Errorf("catalog query: unsupported sort column %q", f.Column)
		}
		if f.Desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	return strings.Join(parts, ", "), nil
}

// productsSQL builds the listing query for q.
func productsSQL(q catalog.Query) (string, []any, error) {
	w, err := buildWhere(q)
	if err != nil {
		return "", nil, err
	}
	order, err := buildOrderBy(q.OrderBy)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT " + productColumns + " FROM products p WHERE " + w.String() + " ORDER BY " + order
	if q.Limit > 0 {
		sql += " LIMIT " + w.arg(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + w.arg(q.Offset)
	}
	return sql, w.args, nil
}

// valueCountsSQL builds the per slug count query of group g. Value ids are
// mapped to their slugs through unnest so merged values count a product once.
func valueCountsSQL(q catalog.Query, g catalog.Group) (string, []any, error) {
	w, err := buildWhere(q)
	if err != nil {
		return "", nil, err
	}
	var join string
	switch g.Kind {
	case catalog.FacetDiscrete:
		join = "JOIN product_parameter_values ppv ON ppv.product_id = p.id JOIN %s ON m.id = ppv.value_id"
	case catalog.FacetVariation:
		join = "JOIN variations v ON v.product_id = p.id AND v.active JOIN %s ON m.id = v.value_id"
	case catalog.FacetForeignKey:
		if _, ok := foreignKeys[g.Field]; !ok {
			return "", nil, fmt.Errorf("catalog query: unsupported field %q", g.Field)
		}
		join = "JOIN %s ON m.id = p." + g.Field
	default:
		return "", nil, fmt.Errorf("catalog query: group %q has no values", g.Key)
	}
	ids, slugs := valueSlugs(g)
	mapping := fmt.Sprintf("unnest(%s::bigint[], %s::text[]) AS m(id, slug)", w.arg(ids), w.arg(slugs))
	return "SELECT m.slug, count(DISTINCT p.id) FROM products p " + fmt.Sprintf(join, mapping) +
		" WHERE " + w.String() + " GROUP BY m.slug", w.args, nil
}

// valueSlugs flattens g's values into parallel id and slug slices.
func valueSlugs(g catalog.Group) ([]int64, []string) {
	ids := []int64{}
	slugs := []string{}
	for _, v := range g.Values {
		for _, id := range v.IDs {
			ids = append(ids, id)
			slugs = append(slugs, v.Slug)
		}
	}
	return ids, slugs
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	var discount decimal.NullDecimal
	if err := row.Scan(&p.ID, &p.Slug, &p.Articul, &p.Name, &p.Price, &discount, &p.EffectivePrice, &p.Stock, &p.ManufacturerID, &p.CreatedAt); err != nil {
		return catalog.Product{}, err
	}
	p.DiscountPrice = decimalPtr(discount)
	return p, nil
}

func (s CatalogStore) CategoryBySlug(ctx context.Context, slug string) (catalog.Category, error) {
	var c catalog.Category
	err := s.DB.QueryRow(ctx, `SELECT id, slug, name, path, discounts_only FROM categories WHERE slug = $1`, slug).
		Scan(&c.ID, &c.Slug, &c.Name, &c.Path, &c.DiscountsOnly)
	if isNoRows(err) {
		return catalog.Category{}, catalog.ErrNotFound
	}
	return c, err
}

// Groups loads the facet groups of a category. Values only include rows
// some active product of the category carries; rows sharing a slug merge.
func (s CatalogStore) Groups(ctx context.Context, categoryID int64) ([]catalog.Group, error) {
	rows, err := s.DB.Query(ctx, `SELECT key, name, kind, COALESCE(field, ''), COALESCE(parameter_id, 0)
FROM facet_groups WHERE category_id = $1 ORDER BY sort_order, id`, categoryID)
	if err != nil {
		return nil, err
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Group, error) {
		var g catalog.Group
		var kind int16
		err := row.Scan(&g.Key, &g.Name, &kind, &g.Field, &g.ParameterID)
		g.Kind = catalog.FacetKind(kind)
		return g, err
	})
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].Kind == catalog.FacetRange {
			continue
		}
		values, err := s.groupValues(ctx, categoryID, groups[i])
		if err != nil {
			return nil, fmt.Errorf("facet %s values: %w", groups[i].Key, err)
		}
		groups[i].Values = values
	}
	return groups, nil
}

func (s CatalogStore) groupValues(ctx context.Context, categoryID int64, g catalog.Group) ([]catalog.Value, error) {
	var sql string
	args := []any{categoryID}
	switch g.Kind {
	case catalog.FacetDiscrete:
		sql = `SELECT pv.id, pv.slug, pv.name FROM parameter_values pv
WHERE pv.parameter_id = $2 AND EXISTS (
  SELECT 1 FROM product_parameter_values ppv JOIN products p ON p.id = ppv.product_id
  WHERE ppv.value_id = pv.id AND p.category_id = $1 AND p.active)
ORDER BY pv.sort_order, pv.id`
		args = append(args, g.ParameterID)
	case catalog.FacetVariation:
		sql = `SELECT pv.id, pv.slug, pv.name FROM parameter_values pv
WHERE pv.parameter_id = $2 AND EXISTS (
  SELECT 1 FROM variations v JOIN products p ON p.id = v.product_id
  WHERE v.value_id = pv.id AND v.active AND p.category_id = $1 AND p.active)
ORDER BY pv.sort_order, pv.id`
		args = append(args, g.ParameterID)
	case catalog.FacetForeignKey:
		table, ok := foreignKeys[g.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported field %q", g.Field)
		}
		sql = fmt.Sprintf(`SELECT t.id, t.slug, t.name FROM %s t
WHERE EXISTS (SELECT 1 FROM products p WHERE p.%s = t.id AND p.category_id = $1 AND p.active)
ORDER BY t.name, t.id`, pgx.Identifier{table}.Sanitize(), g.Field)
	default:
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Value
	index := map[string]int{}
	for rows.Next() {
		var id int64
		var slug, name string
		if err := rows.Scan(&id, &slug, &name); err != nil {
			return nil, err
		}
		if i, ok := index[slug]; ok {
			out[i].IDs = append(out[i].IDs, id)
			continue
		}
		index[slug] = len(out)
		out = append(out, catalog.Value{Slug: slug, Name: name, IDs: []int64{id}})
	}
	return out, rows.Err()
}

func (s CatalogStore) Count(ctx context.Context, q catalog.Query) (int, error) {
	w, err := buildWhere(q)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.DB.QueryRow(ctx, "SELECT count(*) FROM products p WHERE "+w.String(), w.args...).Scan(&n)
	return n, err
}

func (s CatalogStore) Products(ctx context.Context, q catalog.Query) ([]catalog.Product, error) {
	sql, args, err := productsSQL(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		return scanProduct(row)
	})
}

func (s CatalogStore) ValueCounts(ctx context.Context, q catalog.Query, g catalog.Group) (map[string]int, error) {
	sql, args, err := valueCountsSQL(q, g)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var slug string
		var n int
		if err := rows.Scan(&slug, &n); err != nil {
			return nil, err
		}
		counts[slug] = n
	}
	return counts, rows.Err()
}

func (s CatalogStore) PriceBounds(ctx context.Context, q catalog.Query) (decimal.NullDecimal, decimal.NullDecimal, error) {
	w, err := buildWhere(q)
	if err != nil {
		return decimal.NullDecimal{}, decimal.NullDecimal{}, err
	}
	var lo, hi decimal.NullDecimal
	err = s.DB.QueryRow(ctx, "SELECT min(p.effective_price), max(p.effective_price) FROM products p WHERE "+w.String(), w.args...).Scan(&lo, &hi)
	return lo, hi, err
}

func (s CatalogStore) ProductByArticul(ctx context.Context, categoryID int64, articul string) (catalog.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, "SELECT "+productColumns+` FROM products p
WHERE p.category_id = $1 AND p.active AND (p.articul = $2 OR p.slug = $2)
ORDER BY (p.articul = $2) DESC LIMIT 1`, categoryID, articul))
	if isNoRows(err) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, err
}

func (s CatalogStore) ProductByID(ctx context.Context, id int64) (catalog.Product, catalog.Category, error) {
	var p catalog.Product
	var c catalog.Category
	var discount decimal.NullDecimal
	err := s.DB.QueryRow(ctx, "SELECT "+productColumns+`, c.id, c.slug, c.name, c.path, c.discounts_only
FROM products p JOIN categories c ON c.id = p.category_id WHERE p.id = $1 AND p.active`, id).
		Scan(&p.ID, &p.Slug, &p.Articul, &p.Name, &p.Price, &discount, &p.EffectivePrice, &p.Stock, &p.ManufacturerID, &p.CreatedAt,
			&c.ID, &c.Slug, &c.Name, &c.Path, &c.DiscountsOnly)
	if isNoRows(err) {
		return catalog.Product{}, catalog.Category{}, catalog.ErrNotFound
	}
	p.DiscountPrice = decimalPtr(discount)
	return p, c, err
}
