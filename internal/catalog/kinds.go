package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/money"
)

// facetOps is implemented once per FacetKind.
type facetOps interface {
	// predicate turns the group's selection into a query restriction.
	predicate(g Group, s State, vocab *Vocabulary) (Predicate, bool)
	// availability inspects products matching q, which excludes g's own selection.
	availability(ctx context.Context, store Store, q Query, g Group) (availability, error)
	// render builds the facet shown to shoppers.
	render(g Group, s State, a availability, l linker) Facet
}

type availability struct {
	counts map[string]int
	lower  decimal.NullDecimal
	upper  decimal.NullDecimal
}

// opsFor dispatches on kind.
func opsFor(k FacetKind) facetOps {
	if k == FacetRange {
		return rangeOps{}
	}
	return valueOps{}
}

// Facet is a rendered facet group.
type Facet struct {
	Key    string       `json:"key"`
	Name   string       `json:"name"`
	Kind   string       `json:"type"`
	Active bool         `json:"active"`
	Values []FacetValue `json:"values,omitempty"`
	Range  *RangeFacet  `json:"range,omitempty"`
}

// FacetValue is one rendered value.
type FacetValue struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Available bool   `json:"available"`
	Count     *int   `json:"count,omitempty"`
	Link      string `json:"link"`
}

// RangeFacet is the rendered price range.
type RangeFacet struct {
	Min       *decimal.Decimal `json:"min,omitempty"`
	Max       *decimal.Decimal `json:"max,omitempty"`
	MinPrice  *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice  *decimal.Decimal `json:"maxPrice,omitempty"`
	SliderMax *decimal.Decimal `json:"sliderMax,omitempty"`
	Link      string           `json:"link"`
	Template  string           `json:"template"`
}

// linker builds canonical links for derived states.
type linker struct {
	base   string
	vocab  *Vocabulary
	counts bool
}

func (l linker) link(s State) string { return l.base + s.Encode(l.vocab) }

func (l linker) template(s State) string { return l.base + s.encode(l.vocab, true) }

type valueOps struct{}

func (valueOps) predicate(g Group, s State, vocab *Vocabulary) (Predicate, bool) {
	selected := s.Values[g.Key]
	if len(selected) == 0 {
		return Predicate{}, false
	}
	p := Predicate{Kind: g.Kind, Group: g.Key, Field: g.Field, ParameterID: g.ParameterID}
	for _, slug := range selected {
		if v, ok := vocab.Value(slug); ok {
			p.IDs = appendUnique(p.IDs, v.IDs...)
		}
	}
	return p, len(p.IDs) > 0
}

func (valueOps) availability(ctx context.Context, store Store, q Query, g Group) (availability, error) {
	counts, err := store.ValueCounts(ctx, q, g)
	if err != nil {
		return availability{}, err
	}
	return availability{counts: counts}, nil
}

func (valueOps) render(g Group, s State, a availability, l linker) Facet {
	f := Facet{Key: g.Key, Name: g.Name, Kind: g.Kind.String(), Active: len(s.Values[g.Key]) > 0}
	for _, v := range g.Values {
		n := a.counts[v.Slug]
		fv := FacetValue{
			Slug:      v.Slug,
			Name:      v.Name,
			Active:    s.Selected(g.Key, v.Slug),
			Available: n > 0,
			Link:      l.link(s.Toggle(g.Key, v.Slug)),
		}
		if l.counts {
			count := n
			fv.Count = &count
		}
		f.Values = append(f.Values, fv)
	}
	return f
}

type rangeOps struct{}

func (rangeOps) predicate(g Group, s State, _ *Vocabulary) (Predicate, bool) {
	if s.Price == nil {
		return Predicate{}, false
	}
	return Predicate{
		Kind:  FacetRange,
		Group: g.Key,
		Field: ColumnEffectivePrice,
		Min:   money.RangeMin(s.Price.Min),
		Max:   money.RangeMax(s.Price.Max),
	}, true
}

func (rangeOps) availability(ctx context.Context, store Store, q Query, _ Group) (availability, error) {
	lo, hi, err := store.PriceBounds(ctx, q)
	if err != nil {
		return availability{}, err
	}
	return availability{lower: lo, upper: hi}, nil
}

func (rangeOps) render(g Group, s State, a availability, l linker) Facet {
	rf := &RangeFacet{Template: l.template(s.WithoutPrice())}
	if s.Price != nil {
		lo, hi := s.Price.Min, s.Price.Max
		rf.Min, rf.Max = &lo, &hi
		rf.Link = l.link(s.WithoutPrice())
	} else {
		rf.Link = l.link(s)
	}
	if a.lower.Valid {
		lo := a.lower.Decimal.Ceil()
		rf.MinPrice = &lo
	}
	if a.upper.Valid {
		hi := a.upper.Decimal.Floor()
		rf.MaxPrice = &hi
		slider := money.RoundUpTo5Or10(hi)
		rf.SliderMax = &slider
	}
	return Facet{Key: g.Key, Name: g.Name, Kind: FacetRange.String(), Active: s.Price != nil, Range: rf}
}
