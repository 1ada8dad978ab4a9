package order

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// HeaderToken carries the order access token handed out at checkout.
const HeaderToken = "X-Order-Token"

// Handler exposes buyer-facing order endpoints.
type Handler struct {
	Svc *Service
}

type orderView struct {
	Order
	Reference string `json:"reference"`
	Total     string `json:"total"`
}

func view(o Order) orderView {
	return orderView{Order: o, Reference: o.Reference(), Total: o.Total().StringFixed(2)}
}

// Get handles GET /orders/{orderID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order service not configured", nil)
		return
	}
	id, token, ok := orderRef(w, r)
	if !ok {
		return
	}
	o, err := h.Svc.Get(r.Context(), id, token)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(o))
}

// Cancel handles POST /orders/{orderID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order service not configured", nil)
		return
	}
	id, token, ok := orderRef(w, r)
	if !ok {
		return
	}
	o, err := h.Svc.Cancel(r.Context(), id, token)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(o))
}

func orderRef(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return 0, uuid.Nil, false
	}
	raw := strings.TrimSpace(r.Header.Get(HeaderToken))
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	token, err := uuid.Parse(raw)
	if err != nil {
		// Indistinguishable from a missing order.
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
		return 0, uuid.Nil, false
	}
	return id, token, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.WriteError(w, common.NotFound("order not found", err))
	case errors.Is(err, ErrAlreadyPaid):
		common.JSONError(w, http.StatusConflict, "ORDER_PAID", "order is already paid", nil)
	case errors.Is(err, ErrCanceled), errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, "order changed, retry", nil)
	default:
		common.WriteError(w, err)
	}
}
