package obs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// OpenTelemetry counters mirroring the checkout, payment and catalog
// Prometheus vectors. They stay no-ops until InitDomainMeters runs.
var (
	CheckoutCounter            metric.Int64Counter = noop.Int64Counter{}
	PaymentNotificationCounter metric.Int64Counter = noop.Int64Counter{}
	CatalogRequestCounter      metric.Int64Counter = noop.Int64Counter{}
)

// InitDomainMeters creates the domain counters on meter. Call it once at startup.
func InitDomainMeters(meter metric.Meter) error {
	checkout, err := meter.Int64Counter("eushop.checkout.attempts",
		metric.WithDescription("Checkout attempts by result."),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return err
	}
	payment, err := meter.Int64Counter("eushop.payment.notifications",
		metric.WithDescription("Payment notifications by provider and outcome."),
		metric.WithUnit("{notification}"))
	if err != nil {
		return err
	}
	catalog, err := meter.Int64Counter("eushop.catalog.requests",
		metric.WithDescription("Catalog listing outcomes."),
		metric.WithUnit("{request}"))
	if err != nil {
		return err
	}
	CheckoutCounter, PaymentNotificationCounter, CatalogRequestCounter = checkout, payment, catalog
	return nil
}

// Add records a single event on c.
func Add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
