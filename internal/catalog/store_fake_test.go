package catalog_test

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/catalog"
)

type fakeProduct struct {
	catalog.Product
	categoryID int64
	params     map[int64][]int64
	variations []int64
	sortOrder  int
}

type fakeStore struct {
	mu         sync.Mutex
	categories map[string]catalog.Category
	groups     map[int64][]catalog.Group
	products   []fakeProduct
	groupCalls atomic.Int32
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newShoeStore builds 30 products in category "shoes": colors cycle
// red/blue/green by i%3, even ids are size-2, ids up to 15 are acme, price
// is 10+i and every fifth product is discounted by 5.
func newShoeStore() *fakeStore {
	s := &fakeStore{
		categories: map[string]catalog.Category{
			"shoes": {ID: 1, Slug: "shoes", Name: "Shoes"},
			"sale":  {ID: 2, Slug: "sale", Name: "Sale", DiscountsOnly: true},
		},
		groups: map[int64][]catalog.Group{
			1: {
				{Key: "color", Name: "Color", Kind: catalog.FacetDiscrete, ParameterID: 1, Values: []catalog.Value{
					{Slug: "red", Name: "Red", IDs: []int64{11}},
					{Slug: "blue", Name: "Blue", IDs: []int64{12}},
					{Slug: "green", Name: "Green", IDs: []int64{13}},
				}},
				{Key: "size", Name: "Size", Kind: catalog.FacetDiscrete, ParameterID: 2, Values: []catalog.Value{
					{Slug: "size-10", Name: "10", IDs: []int64{22}},
					{Slug: "size-2", Name: "2", IDs: []int64{21}},
				}},
				{Key: "brand", Name: "Brand", Kind: catalog.FacetForeignKey, Field: "manufacturer_id", Values: []catalog.Value{
					{Slug: "acme", Name: "Acme", IDs: []int64{100}},
					{Slug: "zeta", Name: "Zeta", IDs: []int64{200}},
				}},
				{Key: catalog.PriceKey, Name: "Price", Kind: catalog.FacetRange},
			},
		},
	}
	for i := 1; i <= 30; i++ {
		color := []int64{11, 12, 13}[i%3]
		size := int64(22)
		if i%2 == 0 {
			size = 21
		}
		maker := int64(100)
		if i > 15 {
			maker = 200
		}
		p := fakeProduct{
			Product: catalog.Product{
				ID:             int64(i),
				Slug:           fmt.Sprintf("shoe-%d", i),
				Articul:        fmt.Sprintf("SKU-%d", i),
				Name:           fmt.Sprintf("Shoe %02d", i),
				Price:          decimal.NewFromInt(int64(10 + i)),
				Stock:          5,
				ManufacturerID: &maker,
			},
			categoryID: 1,
			params:     map[int64][]int64{1: {color}, 2: {size}},
			sortOrder:  31 - i,
		}
		if i%5 == 0 {
			dp := decimal.NewFromInt(int64(10 + i - 5))
			p.DiscountPrice = &dp
		}
		s.products = append(s.products, p)
	}
	return s
}

func (s *fakeStore) CategoryBySlug(_ context.Context, slug string) (catalog.Category, error) {
	c, ok := s.categories[slug]
	if !ok {
		return catalog.Category{}, catalog.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) Groups(_ context.Context, categoryID int64) ([]catalog.Group, error) {
	s.groupCalls.Add(1)
	return s.groups[categoryID], nil
}

func (s *fakeStore) match(q catalog.Query, p fakeProduct) bool {
	if q.DiscountedOnly {
		if p.DiscountPrice == nil {
			return false
		}
	} else if p.categoryID != q.CategoryID {
		return false
	}
	for _, pred := range q.Predicates {
		switch pred.Kind {
		case catalog.FacetRange:
			eff := p.Effective()
			if eff.LessThan(pred.Min) || eff.GreaterThan(pred.Max) {
				return false
			}
		case catalog.FacetForeignKey:
			if p.ManufacturerID == nil || !slices.Contains(pred.IDs, *p.ManufacturerID) {
				return false
			}
		case catalog.FacetVariation:
			if !overlaps(pred.IDs, p.variations) {
				return false
			}
		default:
			if !overlaps(pred.IDs, p.params[pred.ParameterID]) {
				return false
			}
		}
	}
	return true
}

func overlaps(a, b []int64) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func (s *fakeStore) filter(q catalog.Query) []fakeProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fakeProduct
	for _, p := range s.products {
		if s.match(q, p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeStore) Count(_ context.Context, q catalog.Query) (int, error) {
	return len(s.filter(q)), nil
}

func compareColumn(a, b fakeProduct, column string) int {
	switch column {
	case catalog.ColumnEffectivePrice:
		return a.Effective().Cmp(b.Effective())
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "sort_order":
		return a.sortOrder - b.sortOrder
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		return int(a.ID - b.ID)
	}
}

func (s *fakeStore) Products(_ context.Context, q catalog.Query) ([]catalog.Product, error) {
	rows := s.filter(q)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range q.OrderBy {
			c := compareColumn(rows[i], rows[j], f.Column)
			if f.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	if q.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]catalog.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Product)
	}
	return out, nil
}

func (s *fakeStore) ValueCounts(_ context.Context, q catalog.Query, g catalog.Group) (map[string]int, error) {
	slugOf := map[int64]string{}
	for _, v := range g.Values {
		for _, id := range v.IDs {
			slugOf[id] = v.Slug
		}
	}
	counts := map[string]int{}
	for _, p := range s.filter(q) {
		var ids []int64
		switch g.Kind {
		case catalog.FacetForeignKey:
			if p.ManufacturerID != nil {
				ids = []int64{*p.ManufacturerID}
			}
		case catalog.FacetVariation:
			ids = p.variations
		default:
			ids = p.params[g.ParameterID]
		}
		seen := map[string]bool{}
		for _, id := range ids {
			if slug, ok := slugOf[id]; ok && !seen[slug] {
				seen[slug] = true
				counts[slug]++
			}
		}
	}
	return counts, nil
}

func (s *fakeStore) PriceBounds(_ context.Context, q catalog.Query) (decimal.NullDecimal, decimal.NullDecimal, error) {
	var lo, hi decimal.NullDecimal
	for _, p := range s.filter(q) {
		eff := p.Effective()
		if !lo.Valid || eff.LessThan(lo.Decimal) {
			lo = decimal.NullDecimal{Decimal: eff, Valid: true}
		}
		if !hi.Valid || eff.GreaterThan(hi.Decimal) {
			hi = decimal.NullDecimal{Decimal: eff, Valid: true}
		}
	}
	return lo, hi, nil
}

func (s *fakeStore) ProductByArticul(_ context.Context, categoryID int64, articul string) (catalog.Product, error) {
	for _, p := range s.products {
		if p.categoryID == categoryID && p.Articul == articul {
			return p.Product, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (s *fakeStore) ProductByID(_ context.Context, id int64) (catalog.Product, catalog.Category, error) {
	for _, p := range s.products {
		if p.ID == id {
			for _, c := range s.categories {
				if c.ID == p.categoryID {
					return p.Product, c, nil
				}
			}
		}
	}
	return catalog.Product{}, catalog.Category{}, catalog.ErrNotFound
}
