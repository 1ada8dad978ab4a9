package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/payment"
)

// Handler exposes checkout endpoints under /carts/{cartID}/checkout.
type Handler struct {
	Svc *Service
}

type placedView struct {
	OrderID   int64             `json:"orderId"`
	Reference string            `json:"reference"`
	Token     uuid.UUID         `json:"token"`
	Status    string            `json:"status"`
	Total     string            `json:"total"`
	Redirect  *payment.Redirect `json:"redirect,omitempty"`
}

// Submit handles POST /carts/{cartID}/checkout.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	form, ok := decodeForm(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.Submit(r.Context(), form)
	if err != nil {
		writeError(w, err)
		return
	}
	o := res.Order
	common.JSON(w, http.StatusCreated, map[string]any{"data": placedView{
		OrderID:   o.ID,
		Reference: o.Reference(),
		Token:     o.Token,
		Status:    o.Status.String(),
		Total:     o.Total().StringFixed(2),
		Redirect:  res.Redirect,
	}})
}

// Validate handles POST /carts/{cartID}/checkout/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	form, ok := decodeForm(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Validate(r.Context(), form); err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]bool{"valid": true})
}

func decodeForm(w http.ResponseWriter, r *http.Request) (Form, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "cartID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid cart id", nil)
		return Form{}, false
	}
	var form Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return Form{}, false
	}
	form.CartID = id
	return form, true
}

func writeError(w http.ResponseWriter, err error) {
	var fields FieldErrors
	switch {
	case errors.As(err, &fields):
		common.WriteError(w, common.ValidationFailed(common.FieldErrors(fields)))
	case errors.Is(err, ErrInProgress):
		common.JSONError(w, http.StatusConflict, common.CodeCheckoutInProgress, "checkout already in progress", nil)
	case errors.Is(err, cart.ErrCheckedOut):
		common.JSONError(w, http.StatusConflict, common.CodeCartCheckedOut, "cart already checked out", nil)
	case errors.Is(err, cart.ErrNotFound):
		common.WriteError(w, common.NotFound("cart not found", err))
	default:
		common.WriteError(w, err)
	}
}
