package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/auth"
	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/catalog"
	"github.com/noah-isme/backend-eushop/internal/checkout"
	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/config"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/health"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/payment"
	"github.com/noah-isme/backend-eushop/internal/ratelimit"
	"github.com/noah-isme/backend-eushop/internal/security"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

const (
	apiPrefix     = "/api/v1"
	catalogPrefix = apiPrefix + "/catalog"
	maxBodyBytes  = 1 << 20
)

type routes struct {
	health   health.Handler
	catalog  *catalog.Handler
	vat      vat.Handler
	delivery delivery.Handler
	cart     *cart.Handler
	checkout *checkout.Handler
	orders   *order.Handler
	admin    *order.AdminHandler
	webhook  payment.Webhook

	idem          common.Idem
	checkoutLimit ratelimit.Handler
	promoLimit    ratelimit.Handler
	notifyLimit   ratelimit.Handler
	auth          auth.Middleware
}

func newRouter(cfg *config.Config, logger zerolog.Logger, h routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.TracingMiddleware)
	if cfg.PrometheusEnabled {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(metricsNamespace, cfg.MetricsBucketsMS, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, CountryHeader: cfg.GeoIPHeader}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}))
	r.Use(security.Headers{
		HSTSMaxAge:   31536000,
		Public:       []string{apiPrefix + "/countries", apiPrefix + "/delivery-types", apiPrefix + "/payments/methods"},
		PublicMaxAge: 300,
	}.Middleware)
	r.Use(security.BodyLimit{Max: maxBodyBytes, JSON: true}.Middleware)

	if cfg.PrometheusEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", h.health.Live)
	r.Get("/health/ready", h.health.Ready)

	r.Route(apiPrefix, func(api chi.Router) {
		if cfg.Auth.JWTSecret != "" {
			api.Use(h.auth.Authenticate)
		} else {
			api.Use(vat.ProfileMiddleware)
		}

		api.Get("/catalog/{category}", h.catalog.Listing)
		api.Get("/catalog/{category}/*", h.catalog.Listing)
		api.Get("/products/{id}", h.catalog.ProductRedirect)

		api.Get("/countries", h.vat.List)
		api.Get("/countries/{iso2}/vat-reduction", h.vat.Reduction)
		api.Get("/vat/rates", h.vat.Current)
		api.Get("/delivery-types", h.delivery.Types)
		api.Get("/delivery-types/{typeID}/pickup-points", h.delivery.PickupPoints)

		api.Route("/carts", func(c chi.Router) {
			c.Post("/", h.cart.Create)
			c.Route("/{cartID}", func(c chi.Router) {
				c.Get("/", h.cart.Get)
				c.Post("/items", h.cart.AddItem)
				c.Post("/items/batch", h.cart.AddItems)
				c.Patch("/items/{itemID}", h.cart.UpdateItem)
				c.Delete("/items/{itemID}", h.cart.RemoveItem)
				c.With(h.promoLimit.Middleware).Post("/promo", h.cart.ApplyPromo)
				c.Delete("/promo", h.cart.ClearPromo)
				c.Put("/delivery", h.cart.SetDelivery)
				c.With(h.checkoutLimit.Middleware, h.idem.Middleware).Post("/checkout", h.checkout.Submit)
				c.Post("/checkout/validate", h.checkout.Validate)
			})
		})

		api.Get("/orders/{orderID}", h.orders.Get)
		api.Post("/orders/{orderID}/cancel", h.orders.Cancel)

		api.Get("/payments/methods", h.webhook.Methods)
		api.With(h.notifyLimit.Middleware).Post("/payments/{provider}/notify", h.webhook.Handle)

		api.Route("/admin", func(a chi.Router) {
			a.Use(h.auth.RequireRole("admin"))
			a.Get("/orders", h.admin.List)
			a.Patch("/orders/{orderID}", h.admin.PatchStatus)
			a.Get("/orders/{orderID}/log", h.admin.Log)
			a.Post("/delivery-types/{typeID}/pickup-sync", h.delivery.SyncPickupPoints)
		})
	})
	return r
}

// allowedOrigins falls back to any origin in development only.
func allowedOrigins(cfg *config.Config) []string {
	origins := make([]string, 0, len(cfg.CORSAllowedOrigins))
	for _, o := range cfg.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 && cfg.IsDevelopment() {
		return []string{"*"}
	}
	return origins
}
