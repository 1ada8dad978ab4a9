package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/order"
)

const maxNotificationBytes = 64 << 10

// OrderUpdater applies payment outcomes to orders.
type OrderUpdater interface {
	ApplyOutcome(ctx context.Context, out order.Outcome) (order.Order, error)
}

// Webhook handles provider notifications on POST /payments/{provider}/notify.
type Webhook struct {
	Providers *Registry
	Orders    OrderUpdater
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle verifies the notification, drops replays and applies the outcome.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Providers == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	ctx, span := otel.Tracer("payment").Start(r.Context(), "payment.Webhook")
	defer span.End()
	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.provider", providerKey), attribute.String("payment.result", result))
		obs.Count(obs.PaymentNotificationTotal, providerKey, result)
		obs.Add(ctx, obs.PaymentNotificationCounter, attribute.String("provider", providerKey), attribute.String("result", result))
	}()

	provider, ok := h.Providers.Get(providerKey)
	if !ok {
		result = "unknown_provider"
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unable to read payload", nil)
		return
	}
	out, err := provider.ParseResponse(r, body)
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		result = "invalid_signature"
		h.Logger.Warn().Str("provider", providerKey).Msg("payment notification signature mismatch")
		common.JSONError(w, http.StatusUnauthorized, common.CodeSignatureInvalid, "signature verification failed", nil)
		return
	case errors.Is(err, ErrNoNotifications):
		result = "unknown_provider"
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", err.Error(), nil)
		return
	case err != nil:
		result = "malformed"
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	span.SetAttributes(attribute.Int64("order.id", out.OrderID))

	key := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		key = fmt.Sprintf("wh:%s:%s", providerKey, common.Digest(string(body)))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay guard unavailable", nil)
			return
		}
		if !fresh {
			result = "duplicate"
			common.Data(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	o, err := h.Orders.ApplyOutcome(ctx, out)
	switch {
	case errors.Is(err, order.ErrNotFound):
		result = "order_not_found"
		common.WriteError(w, common.NotFound("order not found", err))
		return
	case errors.Is(err, order.ErrAlreadyPaid), errors.Is(err, order.ErrCanceled):
		result = "ignored"
		h.Logger.Info().Int64("order_id", out.OrderID).Err(err).Msg("payment notification ignored")
		common.Data(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		// Let the provider retry.
		if key != "" {
			_ = h.Replay.Del(context.WithoutCancel(ctx), key).Err()
		}
		h.Logger.Error().Err(err).Int64("order_id", out.OrderID).Msg("apply payment outcome")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to apply payment", nil)
		return
	}
	status := "recorded"
	if o.Paid {
		status = "paid"
	}
	result = status
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"status":    status,
		"reference": o.Reference(),
		"orderId":   strconv.FormatInt(o.ID, 10),
	}})
}

// Methods handles GET /payments/methods.
func (h Webhook) Methods(w http.ResponseWriter, _ *http.Request) {
	common.Data(w, http.StatusOK, h.Providers.Names())
}
