package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// Lister reads delivery reference data for the storefront.
type Lister interface {
	DeliveryTypes(ctx context.Context, iso2 string) ([]Type, error)
	PickupPoints(ctx context.Context, typeID int64) ([]PickupPoint, error)
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler serves delivery options and schedules pickup point refreshes.
type Handler struct {
	Store Lister
	Tasks Enqueuer
}

type pickupView struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Address   string `json:"address"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// Types handles GET /delivery-types?country=XX.
func (h Handler) Types(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "delivery not configured", nil)
		return
	}
	country := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))
	if len(country) != 2 {
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"country": "Select a valid country."}))
		return
	}
	types, err := h.Store.DeliveryTypes(r.Context(), country)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, types)
}

// PickupPoints handles GET /delivery-types/{typeID}/pickup-points.
func (h Handler) PickupPoints(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "delivery not configured", nil)
		return
	}
	id, ok := typeID(w, r)
	if !ok {
		return
	}
	points, err := h.Store.PickupPoints(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.WriteError(w, common.NotFound("delivery type not found", err))
			return
		}
		common.WriteError(w, err)
		return
	}
	out := make([]pickupView, 0, len(points))
	for _, p := range points {
		if !p.Active {
			continue
		}
		out = append(out, pickupView{
			ID: p.ID, Title: p.Title, Address: p.Address, ZipCode: p.ZipCode,
			Country: p.Country, Latitude: p.Latitude, Longitude: p.Longitude,
		})
	}
	common.Data(w, http.StatusOK, out)
}

// SyncPickupPoints handles POST /admin/delivery-types/{typeID}/pickup-sync
// with body {"feed":"omniva"}.
func (h Handler) SyncPickupPoints(w http.ResponseWriter, r *http.Request) {
	if h.Tasks == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "task queue not configured", nil)
		return
	}
	id, ok := typeID(w, r)
	if !ok {
		return
	}
	var body struct {
		Feed string `json:"feed" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := common.ValidateStruct(&body); err != nil {
		common.WriteError(w, err)
		return
	}
	task, err := NewPickupSyncTask(PickupSyncPayload{DeliveryTypeID: id, Feed: body.Feed})
	if err != nil {
		common.WriteError(w, common.ValidationFailed(common.FieldErrors{"feed": "Unknown pickup point feed."}))
		return
	}
	info, err := h.Tasks.EnqueueContext(r.Context(), task)
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "could not schedule sync", nil)
		return
	}
	common.Data(w, http.StatusAccepted, map[string]string{"taskId": info.ID, "queue": info.Queue})
}

func typeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteError(w, common.NotFound("delivery type not found", ErrNotFound))
		return 0, false
	}
	return id, true
}
