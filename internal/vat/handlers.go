package vat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// CountryLister reads the delivery country reference list.
type CountryLister interface {
	CountryStore
	Countries(ctx context.Context) ([]Country, error)
}

// Handler exposes country reference data and the buyer's current rates.
type Handler struct {
	Countries CountryLister
	Rates     interface{ ForRequest(*http.Request) Rates }
}

type countryView struct {
	ISO2       string `json:"iso2"`
	Title      string `json:"title"`
	Behavior   string `json:"behavior"`
	VAT        string `json:"vat"`
	CanInvoice bool   `json:"canInvoice"`
}

func viewOf(c Country) countryView {
	return countryView{
		ISO2:       c.ISO2,
		Title:      c.Title,
		Behavior:   c.Behavior.String(),
		VAT:        c.VAT.String(),
		CanInvoice: c.CanInvoice,
	}
}

// List handles GET /countries.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Countries == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "countries not configured", nil)
		return
	}
	countries, err := h.Countries.Countries(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out := make([]countryView, 0, len(countries))
	for _, c := range countries {
		out = append(out, viewOf(c))
	}
	common.Data(w, http.StatusOK, out)
}

// Reduction handles GET /countries/{iso2}/vat-reduction?buyerType=&vatNumber=.
func (h Handler) Reduction(w http.ResponseWriter, r *http.Request) {
	if h.Countries == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "countries not configured", nil)
		return
	}
	c, err := h.Countries.Country(r.Context(), strings.ToUpper(chi.URLParam(r, "iso2")))
	if errors.Is(err, ErrUnknownCountry) {
		common.WriteError(w, common.NotFound("country not found", err))
		return
	}
	if err != nil {
		common.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	reduct := c.Reduction(q.Get("vatNumber"), ParseBuyerType(q.Get("buyerType")))
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"country":   viewOf(c),
		"reduction": reduct.String(),
	}})
}

// Current handles GET /vat/rates: the rates listing prices are shown with.
func (h Handler) Current(w http.ResponseWriter, r *http.Request) {
	rates := Rates{}
	if h.Rates != nil {
		rates = h.Rates.ForRequest(r)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"reduct": rates.Reduct.String(),
		"apply":  rates.Apply.String(),
	}})
}
