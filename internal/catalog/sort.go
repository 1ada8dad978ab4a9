package catalog

// SortField is one ORDER BY term.
type SortField struct {
	Column string
	Desc   bool
}

// SortOption is a selectable ordering of a listing.
type SortOption struct {
	Code   string
	Fields []SortField
	Name   string
	// Addon is an optional presentation hint, e.g. an icon name.
	Addon string
	// ByPrice orders on the effective price (discount price when set).
	ByPrice bool
}

// Column names understood by stores.
const (
	ColumnEffectivePrice = "effective_price"
	ColumnID             = "id"
)

// DefaultSorts is the stock sort list; the first entry is the default.
var DefaultSorts = []SortOption{
	{Code: "default", Name: "Recommended", Fields: []SortField{{Column: "sort_order"}}},
	{Code: "price-asc", Name: "Price: low to high", ByPrice: true, Addon: "arrow-up"},
	{Code: "price-desc", Name: "Price: high to low", ByPrice: true, Addon: "arrow-down", Fields: []SortField{{Desc: true}}},
	{Code: "name", Name: "Name", Fields: []SortField{{Column: "name"}}},
	{Code: "newest", Name: "Newest", Fields: []SortField{{Column: "created_at", Desc: true}}, Addon: "new"},
}

// Sorts is an ordered sort list.
type Sorts []SortOption

// Default is the first option.
func (s Sorts) Default() SortOption {
	if len(s) == 0 {
		return DefaultSorts[0]
	}
	return s[0]
}

// Lookup finds an option by code; "" is the default.
func (s Sorts) Lookup(code string) (SortOption, bool) {
	if code == "" {
		return s.Default(), true
	}
	for _, opt := range s {
		if opt.Code == code {
			return opt, true
		}
	}
	return SortOption{}, false
}

// IsDefault reports whether code names the default option.
func (s Sorts) IsDefault(code string) bool {
	return code == "" || code == s.Default().Code
}

// OrderBy returns the ORDER BY terms for opt. Price sorts use the effective
// price column. Every ordering ends on the id so pages never overlap.
func (opt SortOption) OrderBy() []SortField {
	out := make([]SortField, 0, len(opt.Fields)+1)
	if opt.ByPrice {
		desc := len(opt.Fields) > 0 && opt.Fields[0].Desc
		out = append(out, SortField{Column: ColumnEffectivePrice, Desc: desc})
	} else {
		out = append(out, opt.Fields...)
	}
	for _, f := range out {
		if f.Column == ColumnID {
			return out
		}
	}
	return append(out, SortField{Column: ColumnID})
}
