package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// RatesSource yields the VAT rates used for display prices of a request.
type RatesSource interface {
	ForRequest(r *http.Request) vat.Rates
}

// Handler exposes catalog listing endpoints.
type Handler struct {
	engine *Engine
	rates  RatesSource
	prefix string
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Engine *Engine
	Rates  RatesSource
	// Prefix is the mount point of the listing route, e.g. "/api/v1/catalog".
	Prefix string
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{engine: cfg.Engine, rates: cfg.Rates, prefix: strings.TrimRight(cfg.Prefix, "/")}
}

// Listing handles GET {prefix}/{category}/*.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog engine not configured", nil)
		return
	}
	slug := chi.URLParam(r, "category")
	category, err := h.engine.Category(r.Context(), slug)
	if err != nil {
		h.writeError(w, err)
		return
	}
	category.Path = h.prefix + "/" + category.Slug + "/"

	var rates vat.Rates
	if h.rates != nil {
		rates = h.rates.ForRequest(r)
	}
	res, err := h.engine.Run(r.Context(), Request{
		Category:    category,
		FilterPath:  chi.URLParam(r, "*"),
		RequestPath: r.URL.Path,
		Rates:       rates,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Redirect != "" {
		target := res.Redirect
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}
	common.Data(w, http.StatusOK, listing{Result: res, Category: category})
}

// listing is a Result annotated with the category it was run against.
type listing struct {
	Result
	Category Category `json:"category"`
}

// ProductRedirect handles GET /api/v1/products/{id} by redirecting to the
// product's canonical catalog path.
func (h *Handler) ProductRedirect(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog engine not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, ErrNotFound)
		return
	}
	path, err := h.engine.ProductLink(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, h.prefix+"/"+path, http.StatusFound)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		common.WriteError(w, common.NotFound("page not found", err))
		return
	}
	common.WriteError(w, err)
}
