package obs_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/noah-isme/backend-eushop/internal/obs"
)

type countingMeter struct {
	noop.Meter
	mu   sync.Mutex
	adds map[string][]attribute.Set
}

func (m *countingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return countingCounter{name: name, meter: m}, nil
}

type countingCounter struct {
	noop.Int64Counter
	name  string
	meter *countingMeter
}

func (c countingCounter) Add(_ context.Context, _ int64, opts ...metric.AddOption) {
	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	c.meter.adds[c.name] = append(c.meter.adds[c.name], metric.NewAddConfig(opts).Attributes())
}

func TestDomainMetersRecordWithAttributes(t *testing.T) {
	prev := []metric.Int64Counter{obs.CheckoutCounter, obs.PaymentNotificationCounter, obs.CatalogRequestCounter}
	t.Cleanup(func() {
		obs.CheckoutCounter, obs.PaymentNotificationCounter, obs.CatalogRequestCounter = prev[0], prev[1], prev[2]
	})

	meter := &countingMeter{adds: map[string][]attribute.Set{}}
	require.NoError(t, obs.InitDomainMeters(meter))

	ctx := context.Background()
	obs.Add(ctx, obs.CheckoutCounter, attribute.String("result", "placed"))
	obs.Add(ctx, obs.PaymentNotificationCounter, attribute.String("provider", "paysera"), attribute.String("result", "paid"))
	obs.Add(ctx, obs.CatalogRequestCounter, attribute.String("result", "page"))
	obs.Add(ctx, nil)

	require.Len(t, meter.adds["eushop.checkout.attempts"], 1)
	v, ok := meter.adds["eushop.checkout.attempts"][0].Value("result")
	require.True(t, ok)
	require.Equal(t, "placed", v.AsString())

	require.Len(t, meter.adds["eushop.payment.notifications"], 1)
	v, ok = meter.adds["eushop.payment.notifications"][0].Value("provider")
	require.True(t, ok)
	require.Equal(t, "paysera", v.AsString())

	require.Len(t, meter.adds["eushop.catalog.requests"], 1)
}

func TestDomainMetersDefaultToNoop(t *testing.T) {
	require.NotPanics(t, func() {
		obs.Add(context.Background(), obs.CheckoutCounter, attribute.String("result", "placed"))
	})
}
