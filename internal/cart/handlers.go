package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/promo"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// RatesSource yields the VAT rates for a request.
type RatesSource interface {
	ForRequest(r *http.Request) vat.Rates
}

// Handler wires cart services to HTTP.
type Handler struct {
	Svc   *Service
	Rates RatesSource
}

// Create handles POST /api/v1/carts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, c)
}

// Get handles GET /api/v1/carts/{cartID} and returns the priced cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	var rates vat.Rates
	if h.Rates != nil {
		rates = h.Rates.ForRequest(r)
	}
	q, err := h.Svc.Quote(r.Context(), id, rates)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, q)
}

// AddItem handles POST /api/v1/carts/{cartID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	var req AddRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.Svc.Add(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, item)
}

type addManyPayload struct {
	Items []AddRequest `json:"items" validate:"required,min=1,dive"`
}

// AddItems handles POST /api/v1/carts/{cartID}/items/batch. Lines over
// stock come back as warnings.
func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	var payload addManyPayload
	if !decode(w, r, &payload) {
		return
	}
	warnings, err := h.Svc.AddMany(r.Context(), id, payload.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(warnings))
	for _, wn := range warnings {
		out = append(out, stockDetails(wn))
	}
	common.Data(w, http.StatusOK, map[string]any{"warnings": out})
}

type updatePayload struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// UpdateItem handles PATCH /api/v1/carts/{cartID}/items/{itemID}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid item id", nil)
		return
	}
	var payload updatePayload
	if !decode(w, r, &payload) {
		return
	}
	if err := h.Svc.Update(r.Context(), id, itemID, *payload.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveItem handles DELETE /api/v1/carts/{cartID}/items/{itemID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid item id", nil)
		return
	}
	if err := h.Svc.Remove(r.Context(), id, itemID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promoPayload struct {
	Code string `json:"code" validate:"required"`
}

// ApplyPromo handles POST /api/v1/carts/{cartID}/promo.
func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	var payload promoPayload
	if !decode(w, r, &payload) {
		return
	}
	pc, err := h.Svc.ApplyPromo(r.Context(), id, payload.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"code": pc.Code, "kind": pc.Kind, "value": pc.Value})
}

// ClearPromo handles DELETE /api/v1/carts/{cartID}/promo.
func (h *Handler) ClearPromo(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.ClearPromo(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deliveryPayload struct {
	DeliveryTypeID *int64 `json:"deliveryTypeId" validate:"omitempty,gt=0"`
	Country        string `json:"country" validate:"required_with=DeliveryTypeID"`
}

// SetDelivery handles PUT /api/v1/carts/{cartID}/delivery.
func (h *Handler) SetDelivery(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return
	}
	id, ok := cartID(w, r)
	if !ok {
		return
	}
	var payload deliveryPayload
	if !decode(w, r, &payload) {
		return
	}
	if err := h.Svc.SetDelivery(r.Context(), id, payload.DeliveryTypeID, strings.ToUpper(payload.Country)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cartID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "cartID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid cart id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return false
	}
	if err := common.ValidateStruct(dst); err != nil {
		common.WriteError(w, err)
		return false
	}
	return true
}

func stockDetails(e *StockExceededError) map[string]any {
	return map[string]any{
		"productId":   e.ProductID,
		"variationId": e.VariationID,
		"title":       e.Title,
		"requested":   e.Requested,
		"available":   e.Available,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var stockErr *StockExceededError
	switch {
	case errors.As(err, &stockErr):
		common.JSONError(w, http.StatusConflict, common.CodeStockExceeded, stockErr.Error(), stockDetails(stockErr))
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "cart not found", nil)
	case errors.Is(err, ErrCheckedOut):
		common.JSONError(w, http.StatusConflict, common.CodeCartCheckedOut, "cart already checked out", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, ErrUnavailable):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"productId": "Product is not available."}))
	case errors.Is(err, delivery.ErrNotFound):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"deliveryTypeId": "Unknown delivery type."}))
	case errors.Is(err, ErrPromoDisabled), errors.Is(err, promo.ErrNotFound):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"code": "Promo code not found."}))
	case errors.Is(err, promo.ErrInactive), errors.Is(err, promo.ErrExpired):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"code": "Promo code is no longer valid."}))
	case errors.Is(err, promo.ErrMinimumSumUnmet):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"code": "Cart total is too low for this promo code."}))
	default:
		common.WriteError(w, err)
	}
}
