package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/pricing"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

var tracer = otel.Tracer("github.com/noah-isme/backend-eushop/internal/catalog")

// Config tunes an Engine.
type Config struct {
	PageSize int
	// Counts annotates every facet value with a live product count.
	Counts bool
	// Parallel runs facet availability queries concurrently.
	Parallel bool
	Sorts    Sorts
}

// Engine runs listing requests against a Store.
type Engine struct {
	store  Store
	cache  *Cache
	cfg    Config
	logger zerolog.Logger
}

// NewEngine constructs an engine. cache may be nil.
func NewEngine(store Store, cache *Cache, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 24
	}
	if len(cfg.Sorts) == 0 {
		cfg.Sorts = DefaultSorts
	}
	return &Engine{store: store, cache: cache, cfg: cfg, logger: logger}
}

// Request is one listing request.
type Request struct {
	Category Category
	// FilterPath is the part of the path after the category path.
	FilterPath string
	// RequestPath is the full path as requested.
	RequestPath string
	Rates       vat.Rates
}

// SortLink is a rendered sort choice.
type SortLink struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Addon  string `json:"addon,omitempty"`
	Active bool   `json:"active"`
	Link   string `json:"link"`
}

// Page is one page of a listing.
type Page struct {
	Products []Product `json:"products"`
	Number   int       `json:"page"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
	PageSize int       `json:"pageSize"`
}

// Result is either a redirect, a product or a listing.
type Result struct {
	// Redirect is set when the requested path is not canonical.
	Redirect  string     `json:"redirect,omitempty"`
	Product   *Product   `json:"product,omitempty"`
	Canonical string     `json:"canonical"`
	Page      *Page      `json:"page,omitempty"`
	Facets    []Facet    `json:"facets,omitempty"`
	Sorts     []SortLink `json:"sorts,omitempty"`
}

// Vocabulary loads the facet vocabulary of a category, through the cache when set.
func (e *Engine) Vocabulary(ctx context.Context, c Category) (*Vocabulary, error) {
	if c.DiscountsOnly {
		return NewVocabulary(nil), nil
	}
	groups, err := e.cache.Groups(ctx, c.ID, func(ctx context.Context) ([]Group, error) {
		return e.store.Groups(ctx, c.ID)
	}, e.logger)
	if err != nil {
		return nil, err
	}
	return NewVocabulary(groups), nil
}

// Run decodes the filter path, checks it is canonical and returns the page.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "catalog.Run")
	defer span.End()
	span.SetAttributes(attribute.Int64("catalog.category_id", req.Category.ID))

	res, err := e.run(ctx, req)
	result := "page"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
		span.RecordError(err)
	case res.Redirect != "":
		result = "redirect"
	case res.Product != nil:
		result = "product"
	}
	obs.Count(obs.CatalogRequestsTotal, result)
	obs.Add(ctx, obs.CatalogRequestCounter, attribute.String("result", result))
	return res, err
}

func (e *Engine) run(ctx context.Context, req Request) (Result, error) {
	vocab, err := e.Vocabulary(ctx, req.Category)
	if err != nil {
		return Result{}, err
	}

	if p, ok, err := e.productSegment(ctx, req, vocab); err != nil || ok {
		return p, err
	}

	state, err := Decode(req.FilterPath, vocab)
	if err != nil {
		return Result{}, err
	}
	sortOpt, ok := e.cfg.Sorts.Lookup(state.Sort)
	if !ok {
		return Result{}, ErrNotFound
	}
	if e.cfg.Sorts.IsDefault(state.Sort) {
		state.Sort = ""
	}

	q := Query{
		CategoryID:     req.Category.ID,
		DiscountedOnly: req.Category.DiscountsOnly,
		Predicates:     predicates(vocab, state, ""),
		OrderBy:        sortOpt.OrderBy(),
	}
	total, err := e.store.Count(ctx, q)
	if err != nil {
		return Result{}, err
	}
	pages := (total + e.cfg.PageSize - 1) / e.cfg.PageSize
	if pages < 1 {
		pages = 1
	}
	if state.PageNumber() > pages {
		return Result{}, ErrNotFound
	}

	canonical := req.Category.Path + state.Encode(vocab)
	if canonical != req.RequestPath {
		return Result{Redirect: canonical, Canonical: canonical}, nil
	}

	q.Offset = (state.PageNumber() - 1) * e.cfg.PageSize
	q.Limit = e.cfg.PageSize
	products, err := e.store.Products(ctx, q)
	if err != nil {
		return Result{}, err
	}
	for i := range products {
		products[i].EffectivePrice = products[i].Effective()
		products[i].DisplayPrice = pricing.DisplayPrice(products[i].EffectivePrice, req.Rates)
	}

	l := linker{base: req.Category.Path, vocab: vocab, counts: e.cfg.Counts}
	facets, err := e.facets(ctx, q, vocab, state, l)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Canonical: canonical,
		Page: &Page{
			Products: products,
			Number:   state.PageNumber(),
			Pages:    pages,
			Total:    total,
			PageSize: e.cfg.PageSize,
		},
		Facets: facets,
		Sorts:  e.sortLinks(state, l),
	}, nil
}

// productSegment resolves a single path segment naming a product articul.
func (e *Engine) productSegment(ctx context.Context, req Request, vocab *Vocabulary) (Result, bool, error) {
	seg := strings.Trim(req.FilterPath, "/")
	if seg == "" || strings.Contains(seg, "/") {
		return Result{}, false, nil
	}
	if _, ok := vocab.Owner(seg); ok {
		return Result{}, false, nil
	}
	for _, prefix := range []string{pricePrefix, sortPrefix, pagePrefix} {
		if strings.HasPrefix(seg, prefix) {
			return Result{}, false, nil
		}
	}
	p, err := e.store.ProductByArticul(ctx, req.Category.ID, seg)
	if errors.Is(err, ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	p.EffectivePrice = p.Effective()
	p.DisplayPrice = pricing.DisplayPrice(p.EffectivePrice, req.Rates)
	return Result{Product: &p, Canonical: req.Category.Path + seg + "/"}, true, nil
}

// predicates builds the query restrictions of s, leaving out the group named skip.
func predicates(vocab *Vocabulary, s State, skip string) []Predicate {
	var out []Predicate
	for _, g := range vocab.Groups() {
		if g.Key == skip {
			continue
		}
		if p, ok := opsFor(g.Kind).predicate(g, s, vocab); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) facets(ctx context.Context, base Query, vocab *Vocabulary, s State, l linker) ([]Facet, error) {
	groups := vocab.Groups()
	avail := make([]availability, len(groups))
	check := func(ctx context.Context, i int) error {
		g := groups[i]
		q := base
		q.Predicates = predicates(vocab, s, g.Key)
		q.OrderBy, q.Offset, q.Limit = nil, 0, 0
		start := time.Now()
		a, err := opsFor(g.Kind).availability(ctx, e.store, q, g)
		if obs.CatalogFacetLatency != nil {
			obs.CatalogFacetLatency.WithLabelValues(g.Kind.String()).Observe(obs.DurationMillis(time.Since(start)))
		}
		if err != nil {
			return err
		}
		avail[i] = a
		return nil
	}

	if e.cfg.Parallel {
		eg, egCtx := errgroup.WithContext(ctx)
		for i := range groups {
			eg.Go(func() error { return check(egCtx, i) })
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range groups {
			if err := check(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	out := make([]Facet, 0, len(groups))
	for i, g := range groups {
		out = append(out, opsFor(g.Kind).render(g, s, avail[i], l))
	}
	return out, nil
}

func (e *Engine) sortLinks(s State, l linker) []SortLink {
	out := make([]SortLink, 0, len(e.cfg.Sorts))
	for _, opt := range e.cfg.Sorts {
		code := opt.Code
		if e.cfg.Sorts.IsDefault(code) {
			code = ""
		}
		out = append(out, SortLink{
			Code:   opt.Code,
			Name:   opt.Name,
			Addon:  opt.Addon,
			Active: code == s.Sort,
			Link:   l.link(s.WithSort(code)),
		})
	}
	return out
}

// Category resolves a category slug.
func (e *Engine) Category(ctx context.Context, slug string) (Category, error) {
	return e.store.CategoryBySlug(ctx, slug)
}

// ProductLink returns "<category slug>/<articul>/" for a product id.
func (e *Engine) ProductLink(ctx context.Context, id int64) (string, error) {
	p, c, err := e.store.ProductByID(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Slug + "/" + p.Articul + "/", nil
}
