package catalog

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// FacetKind is the closed set of filter kinds.
type FacetKind int

const (
	// FacetDiscrete is a product parameter with many values, OR-ed within the group.
	FacetDiscrete FacetKind = iota
	// FacetRange is the effective price range.
	FacetRange
	// FacetForeignKey filters on a single related entity column, e.g. manufacturer.
	FacetForeignKey
	// FacetVariation filters on the values of a product's variations.
	FacetVariation
)

func (k FacetKind) String() string {
	switch k {
	case FacetDiscrete:
		return "choice"
	case FacetRange:
		return "price_range"
	case FacetForeignKey:
		return "entity"
	case FacetVariation:
		return "variation"
	default:
		return "unknown"
	}
}

// PriceKey is the group key of the price range facet.
const PriceKey = "price_range"

// Value is one selectable facet value. Several stored rows may share a slug;
// their ids are merged.
type Value struct {
	Slug string  `json:"slug"`
	Name string  `json:"name"`
	IDs  []int64 `json:"ids"`
}

// Group is a facet group as offered in one category.
type Group struct {
	Key   string    `json:"key"`
	Name  string    `json:"name"`
	Kind  FacetKind `json:"kind"`
	Field string    `json:"field,omitempty"`
	// ParameterID is set for discrete groups.
	ParameterID int64   `json:"parameterId,omitempty"`
	Values      []Value `json:"values"`
}

// Vocabulary is the ordered set of facet groups of a category with a
// slug index. Group order is the canonical URL order.
type Vocabulary struct {
	groups []Group
	owner  map[string]int
	values map[string]Value
}

// NewVocabulary indexes groups. Values are put in natural order; a slug
// belongs to the first group that lists it and collects the ids of every
// row sharing it.
func NewVocabulary(groups []Group) *Vocabulary {
	v := &Vocabulary{
		groups: make([]Group, 0, len(groups)),
		owner:  make(map[string]int),
		values: make(map[string]Value),
	}
	slugs := make([][]string, len(groups))
	for i, g := range groups {
		v.groups = append(v.groups, Group{Key: g.Key, Name: g.Name, Kind: g.Kind, Field: g.Field, ParameterID: g.ParameterID})
		if g.Kind == FacetRange {
			continue
		}
		for _, val := range g.Values {
			if val.Slug == "" {
				continue
			}
			if _, taken := v.owner[val.Slug]; taken {
				merged := v.values[val.Slug]
				merged.IDs = appendUnique(merged.IDs, val.IDs...)
				v.values[val.Slug] = merged
				continue
			}
			v.owner[val.Slug] = i
			v.values[val.Slug] = Value{Slug: val.Slug, Name: val.Name, IDs: appendUnique(nil, val.IDs...)}
			slugs[i] = append(slugs[i], val.Slug)
		}
	}
	for i := range v.groups {
		sort.SliceStable(slugs[i], func(a, b int) bool { return naturalLess(slugs[i][a], slugs[i][b]) })
		for _, slug := range slugs[i] {
			v.groups[i].Values = append(v.groups[i].Values, v.values[slug])
		}
	}
	return v
}

func appendUnique(dst []int64, ids ...int64) []int64 {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

// Groups returns the groups in canonical order.
func (v *Vocabulary) Groups() []Group {
	if v == nil {
		return nil
	}
	return v.groups
}

// Owner returns the key of the group a value slug belongs to.
func (v *Vocabulary) Owner(slug string) (string, bool) {
	if v == nil {
		return "", false
	}
	idx, ok := v.owner[slug]
	if !ok {
		return "", false
	}
	return v.groups[idx].Key, true
}

// Value returns the value registered under slug.
func (v *Vocabulary) Value(slug string) (Value, bool) {
	if v == nil {
		return Value{}, false
	}
	val, ok := v.values[slug]
	return val, ok
}

// HasPrice reports whether the price range facet is offered.
func (v *Vocabulary) HasPrice() bool {
	if v == nil {
		return false
	}
	for _, g := range v.groups {
		if g.Kind == FacetRange {
			return true
		}
	}
	return false
}

// Predicate restricts a product query. Values inside one predicate are
// OR-ed; predicates are AND-ed.
type Predicate struct {
	Kind        FacetKind
	Group       string
	Field       string
	ParameterID int64
	IDs         []int64
	Min         decimal.Decimal
	Max         decimal.Decimal
}
