package order

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// AdminHandler provides back-office order endpoints.
type AdminHandler struct {
	Svc *Service
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// List handles GET /admin/orders?status=&page=&perPage=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order service not configured", nil)
		return
	}
	q := r.URL.Query()
	page := positive(q.Get("page"), 1)
	perPage := positive(q.Get("perPage"), 20)
	if perPage > 100 {
		perPage = 100
	}
	f := Filter{Offset: (page - 1) * perPage, Limit: perPage}
	if raw := q.Get("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unknown status", nil)
			return
		}
		f.Status = &st
	}
	orders, total, err := h.Svc.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]orderView, 0, len(orders))
	for _, o := range orders {
		data = append(data, view(o))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       data,
		"pagination": map[string]int{"page": page, "perPage": perPage, "totalItems": total},
	})
}

// PatchStatus handles PATCH /admin/orders/{orderID}.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order service not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return
	}
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unsupported status", nil)
		return
	}
	o, err := h.Svc.SetStatus(r.Context(), id, target)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view(o))
}

// Log handles GET /admin/orders/{orderID}/log and returns the payment log as text.
func (h *AdminHandler) Log(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order service not configured", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return
	}
	o, err := h.Svc.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(o.PaymentLog))
}

func positive(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
