package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CatalogRequestsTotal counts catalog listing outcomes (page, redirect, not_found, error).
	CatalogRequestsTotal *prometheus.CounterVec
	// CatalogFacetLatency records facet availability queries in milliseconds.
	CatalogFacetLatency *prometheus.HistogramVec
	// CheckoutTotal counts checkout attempts by result.
	CheckoutTotal *prometheus.CounterVec
	// PaymentNotificationTotal counts inbound payment notifications by outcome.
	PaymentNotificationTotal *prometheus.CounterVec
	// GeoLookupTotal counts country lookups by source and result.
	GeoLookupTotal *prometheus.CounterVec
	// NotificationsTotal counts buyer notifications by template and result.
	NotificationsTotal *prometheus.CounterVec
	// PickupSyncPoints reports the number of pickup points stored by the last sync per feed.
	PickupSyncPoints *prometheus.GaugeVec
	// RateLimitTotal counts rate limit decisions by scope (allowed, limited, error).
	RateLimitTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CatalogRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Count of catalog listing outcomes.",
		}, []string{"result"})
		CatalogFacetLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_facet_duration_ms",
			Help:      "Latency of facet availability queries in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"kind"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by result.",
		}, []string{"result"})
		PaymentNotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notification_total",
			Help:      "Count of processed payment notifications by outcome.",
		}, []string{"provider", "result"})
		GeoLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookup_total",
			Help:      "Count of request country lookups.",
		}, []string{"source", "result"})
		NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of buyer notifications by template and result.",
		}, []string{"template", "result"})
		PickupSyncPoints = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pickup_sync_points",
			Help:      "Pickup points stored by the most recent sync.",
		}, []string{"feed"})
		RateLimitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_total",
			Help:      "Rate limit decisions by scope.",
		}, []string{"scope", "decision"})

		register(reg, &CatalogRequestsTotal)
		register(reg, &CatalogFacetLatency)
		register(reg, &CheckoutTotal)
		register(reg, &PaymentNotificationTotal)
		register(reg, &GeoLookupTotal)
		register(reg, &NotificationsTotal)
		register(reg, &PickupSyncPoints)
		register(reg, &RateLimitTotal)
	})
}

// Count increments vec with labels when the collector is registered.
func Count(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
