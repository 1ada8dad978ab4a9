package catalog

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	pricePrefix = "price-range-"
	sortPrefix  = "sort-"
	pagePrefix  = "page-"
	// PricePlaceholder is substituted by clients building a price range link.
	PricePlaceholder = pricePrefix + "#min:#max"
)

// ErrNotFound marks requests that address no listing: bad page, unknown
// sort or unknown product.
var ErrNotFound = errors.New("catalog: not found")

// PriceRange is a selected effective price range as typed by the shopper.
type PriceRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// State is a decoded filter path: facet selection, sort and page.
type State struct {
	// Values maps group key to selected value slugs in natural order.
	Values map[string][]string
	Price  *PriceRange
	// Sort is the sort code; empty means the default sort.
	Sort string
	// Page is 1-based; 0 is read as 1.
	Page int
}

// PageNumber returns the effective page.
func (s State) PageNumber() int {
	if s.Page < 1 {
		return 1
	}
	return s.Page
}

// Empty reports whether no facet is selected.
func (s State) Empty() bool {
	return len(s.Values) == 0 && s.Price == nil
}

// Selected reports whether slug is selected in group.
func (s State) Selected(group, slug string) bool {
	for _, v := range s.Values[group] {
		if v == slug {
			return true
		}
	}
	return false
}

// Equal compares two states by value.
func (s State) Equal(o State) bool {
	if s.Sort != o.Sort || s.PageNumber() != o.PageNumber() || len(s.Values) != len(o.Values) {
		return false
	}
	for k, vals := range s.Values {
		other, ok := o.Values[k]
		if !ok || len(other) != len(vals) {
			return false
		}
		for i := range vals {
			if vals[i] != other[i] {
				return false
			}
		}
	}
	if (s.Price == nil) != (o.Price == nil) {
		return false
	}
	return s.Price == nil || (s.Price.Min.Equal(o.Price.Min) && s.Price.Max.Equal(o.Price.Max))
}

func (s State) clone() State {
	out := State{Sort: s.Sort, Page: s.Page, Values: make(map[string][]string, len(s.Values))}
	for k, v := range s.Values {
		out.Values[k] = append([]string(nil), v...)
	}
	if s.Price != nil {
		p := *s.Price
		out.Price = &p
	}
	return out
}

// Toggle returns a copy with slug added to or removed from group. The page resets.
func (s State) Toggle(group, slug string) State {
	out := s.clone()
	out.Page = 1
	vals := out.Values[group]
	for i, v := range vals {
		if v == slug {
			vals = append(vals[:i], vals[i+1:]...)
			if len(vals) == 0 {
				delete(out.Values, group)
			} else {
				out.Values[group] = vals
			}
			return out
		}
	}
	vals = append(vals, slug)
	sort.SliceStable(vals, func(a, b int) bool { return naturalLess(vals[a], vals[b]) })
	out.Values[group] = vals
	return out
}

// WithoutPrice returns a copy with no price range and page 1.
func (s State) WithoutPrice() State {
	out := s.clone()
	out.Price = nil
	out.Page = 1
	return out
}

// WithSort returns a copy sorted by code on page 1.
func (s State) WithSort(code string) State {
	out := s.clone()
	out.Sort = code
	out.Page = 1
	return out
}

// Decode reads a filter path such as "red/xl/price-range-10:50/sort-name/page-2/".
// Slugs unknown to vocab and malformed price tokens are dropped. The only
// failure is a page token that is not a positive integer.
func Decode(path string, vocab *Vocabulary) (State, error) {
	s := State{Values: map[string][]string{}, Page: 1}
	for _, tok := range strings.Split(path, "/") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
		case strings.HasPrefix(tok, pricePrefix):
			if vocab.HasPrice() {
				if pr, ok := parsePrice(strings.TrimPrefix(tok, pricePrefix)); ok {
					s.Price = &pr
				}
			}
		case strings.HasPrefix(tok, sortPrefix):
			s.Sort = strings.TrimPrefix(tok, sortPrefix)
		case strings.HasPrefix(tok, pagePrefix):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, pagePrefix))
			if err != nil || n < 1 {
				return State{}, ErrNotFound
			}
			s.Page = n
		default:
			group, ok := vocab.Owner(tok)
			if !ok || s.Selected(group, tok) {
				continue
			}
			s.Values[group] = append(s.Values[group], tok)
		}
	}
	for k := range s.Values {
		vals := s.Values[k]
		sort.SliceStable(vals, func(a, b int) bool { return naturalLess(vals[a], vals[b]) })
	}
	return s, nil
}

func parsePrice(raw string) (PriceRange, bool) {
	lo, hi, ok := strings.Cut(raw, ":")
	if !ok {
		return PriceRange{}, false
	}
	minV, err := decimal.NewFromString(lo)
	if err != nil {
		return PriceRange{}, false
	}
	maxV, err := decimal.NewFromString(hi)
	if err != nil {
		return PriceRange{}, false
	}
	if minV.IsNegative() || maxV.LessThan(minV) {
		return PriceRange{}, false
	}
	return PriceRange{Min: minV, Max: maxV}, true
}

func priceToken(pr PriceRange) string {
	return pricePrefix + pr.Min.String() + ":" + pr.Max.String()
}

// Encode writes the canonical filter path: value slugs in vocabulary group
// order, then price range, sort and page. Every segment ends with "/".
func (s State) Encode(vocab *Vocabulary) string {
	return s.encode(vocab, false)
}

func (s State) encode(vocab *Vocabulary, priceTemplate bool) string {
	var b strings.Builder
	for _, g := range vocab.Groups() {
		if g.Kind == FacetRange {
			continue
		}
		for _, v := range g.Values {
			if s.Selected(g.Key, v.Slug) {
				b.WriteString(v.Slug)
				b.WriteByte('/')
			}
		}
	}
	switch {
	case priceTemplate:
		b.WriteString(PricePlaceholder)
		b.WriteByte('/')
	case s.Price != nil:
		b.WriteString(priceToken(*s.Price))
		b.WriteByte('/')
	}
	if s.Sort != "" {
		b.WriteString(sortPrefix + s.Sort)
		b.WriteByte('/')
	}
	if s.PageNumber() > 1 {
		b.WriteString(pagePrefix + strconv.Itoa(s.PageNumber()))
		b.WriteByte('/')
	}
	return b.String()
}
