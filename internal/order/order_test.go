package order_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/order"
)

var fixedNow = time.Date(2026, 3, 2, 14, 5, 9, 0, time.UTC)

type memStore struct {
	mu     sync.Mutex
	orders map[int64]order.Order
	next   int64
	// stale makes the next n saves lose the race.
	stale int
}

func newMemStore() *memStore { return &memStore{orders: map[int64]order.Order{}} }

func (m *memStore) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	o.ID = m.next
	m.orders[o.ID] = *o
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (m *memStore) Save(_ context.Context, o order.Order, expect order.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale > 0 {
		m.stale--
		return false, nil
	}
	cur, ok := m.orders[o.ID]
	if !ok {
		return false, order.ErrNotFound
	}
	if cur.Status != expect {
		return false, nil
	}
	m.orders[o.ID] = o
	return true, nil
}

func (m *memStore) List(_ context.Context, f order.Filter) ([]order.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for id := int64(1); id <= m.next; id++ {
		o, ok := m.orders[id]
		if !ok || (f.Status != nil && o.Status != *f.Status) {
			continue
		}
		out = append(out, o)
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

type sent struct {
	key  string
	vars map[string]any
	to   []string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *memNotifier) Send(_ context.Context, key string, vars map[string]any, to []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{key: key, vars: vars, to: to})
	return nil
}

func newService(t *testing.T) (*order.Service, *memStore, *memNotifier) {
	t.Helper()
	store := newMemStore()
	notifier := &memNotifier{}
	svc, err := order.NewService(order.ServiceConfig{
		Store:    store,
		Notifier: notifier,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc, store, notifier
}

func seed(t *testing.T, store *memStore) order.Order {
	t.Helper()
	o := order.Order{
		Token:         uuid.New(),
		CartID:        uuid.New(),
		Status:        order.StatusNew,
		Buyer:         order.Buyer{FirstName: "Anna", Email: "anna@example.com"},
		CartPrice:     decimal.RequireFromString("20.00"),
		DeliveryPrice: decimal.RequireFromString("3.50"),
		PaymentMethod: "bank",
	}
	require.NoError(t, store.Create(context.Background(), &o))
	return o
}

func TestReferenceAndTotal(t *testing.T) {
	o := order.Order{ID: 42, CartPrice: decimal.RequireFromString("10.005"), DeliveryPrice: decimal.RequireFromString("2")}
	require.Equal(t, "QS42", o.Reference())
	require.Equal(t, "12.01", o.Total().StringFixed(2))
}

func TestAppendLogKeepsEarlierLines(t *testing.T) {
	var o order.Order
	o.AppendLog(fixedNow, "first")
	o.AppendLog(fixedNow.Add(time.Minute), "second")
	require.Equal(t, "[03/02/26 14:05:09] first\n[03/02/26 14:06:09] second\n", o.PaymentLog)
}

func TestStatusLifecycle(t *testing.T) {
	o := order.Order{Status: order.StatusNew}
	require.ErrorIs(t, o.Complete(fixedNow), order.ErrInvalidTransition)
	require.NoError(t, o.MarkPaid(fixedNow, "tx-1", ""))
	require.Equal(t, order.StatusInProgress, o.Status)
	require.ErrorIs(t, o.MarkPaid(fixedNow, "tx-2", ""), order.ErrAlreadyPaid)
	require.ErrorIs(t, o.Cancel(fixedNow), order.ErrAlreadyPaid)
	require.NoError(t, o.Complete(fixedNow))

	c := order.Order{Status: order.StatusNew}
	require.NoError(t, c.Cancel(fixedNow))
	require.Equal(t, order.StatusCanceled, c.Status)
	require.Contains(t, c.PaymentLog, "Order canceled!")
	require.ErrorIs(t, c.MarkPaid(fixedNow, "tx", ""), order.ErrCanceled)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []order.Status{order.StatusNew, order.StatusInProgress, order.StatusCompleted, order.StatusCanceled} {
		got, err := order.ParseStatus(strings.ToLower(s.String()))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := order.ParseStatus("SHIPPED")
	require.Error(t, err)
}

func TestGetRequiresToken(t *testing.T) {
	svc, store, _ := newService(t)
	o := seed(t, store)

	_, err := svc.Get(context.Background(), o.ID, uuid.New())
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err := svc.Get(context.Background(), o.ID, o.Token)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
}

func TestCancelOnlyWhileUnpaid(t *testing.T) {
	svc, store, _ := newService(t)
	o := seed(t, store)
	canceled, err := svc.Cancel(context.Background(), o.ID, o.Token)
	require.NoError(t, err)
	require.Equal(t, order.StatusCanceled, canceled.Status)
	require.Equal(t, "[03/02/26 14:05:09] Order canceled!\n", canceled.PaymentLog)

	paid := seed(t, store)
	_, err = svc.ApplyOutcome(context.Background(), order.Outcome{OrderID: paid.ID, Paid: true, PaymentID: "tx-9"})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), paid.ID, paid.Token)
	require.ErrorIs(t, err, order.ErrAlreadyPaid)
}

func TestApplyOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("paid", func(t *testing.T) {
		svc, store, notifier := newService(t)
		o := seed(t, store)
		got, err := svc.ApplyOutcome(ctx, order.Outcome{OrderID: o.ID, Paid: true, PaymentID: "tx-1", Amount: decimal.NewNullDecimal(decimal.RequireFromString("23.50"))})
		require.NoError(t, err)
		require.True(t, got.Paid)
		require.Equal(t, order.StatusInProgress, got.Status)
		require.Equal(t, "tx-1", got.PaymentID)
		require.Len(t, notifier.sent, 1)
		require.Equal(t, "order_paid", notifier.sent[0].key)
		require.Equal(t, "QS1", notifier.sent[0].vars["reference"])
	})

	t.Run("amount mismatch leaves order unpaid", func(t *testing.T) {
		svc, store, notifier := newService(t)
		o := seed(t, store)
		got, err := svc.ApplyOutcome(ctx, order.Outcome{OrderID: o.ID, Paid: true, PaymentID: "tx-1", Amount: decimal.NewNullDecimal(decimal.RequireFromString("1.00"))})
		require.NoError(t, err)
		require.False(t, got.Paid)
		require.Equal(t, order.StatusNew, got.Status)
		require.Contains(t, got.PaymentLog, "does not match total 23.50")
		require.Empty(t, notifier.sent)
	})

	t.Run("failure is logged", func(t *testing.T) {
		svc, store, _ := newService(t)
		o := seed(t, store)
		got, err := svc.ApplyOutcome(ctx, order.Outcome{OrderID: o.ID, Note: "Card declined"})
		require.NoError(t, err)
		require.False(t, got.Paid)
		require.Equal(t, "[03/02/26 14:05:09] Card declined\n", got.PaymentLog)
	})

	t.Run("retries lost races", func(t *testing.T) {
		svc, store, _ := newService(t)
		o := seed(t, store)
		store.stale = 2
		got, err := svc.ApplyOutcome(ctx, order.Outcome{OrderID: o.ID, Paid: true, PaymentID: "tx-1"})
		require.NoError(t, err)
		require.True(t, got.Paid)

		other := seed(t, store)
		store.stale = 3
		_, err = svc.ApplyOutcome(ctx, order.Outcome{OrderID: other.ID, Paid: true, PaymentID: "tx-2"})
		require.ErrorIs(t, err, order.ErrConflict)
	})
}

func TestHandlers(t *testing.T) {
	svc, store, _ := newService(t)
	o := seed(t, store)
	h := &order.Handler{Svc: svc}
	admin := &order.AdminHandler{Svc: svc}
	r := chi.NewRouter()
	r.Get("/orders/{orderID}", h.Get)
	r.Post("/orders/{orderID}/cancel", h.Cancel)
	r.Get("/admin/orders", admin.List)
	r.Patch("/admin/orders/{orderID}", admin.PatchStatus)
	r.Get("/admin/orders/{orderID}/log", admin.Log)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set(order.HeaderToken, token)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodGet, "/orders/1", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(http.MethodGet, "/orders/1", o.Token.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"reference":"QS1"`)
	require.Contains(t, rr.Body.String(), `"total":"23.50"`)
	require.Contains(t, rr.Body.String(), `"status":"NEW"`)

	rr = do(http.MethodGet, "/orders/abc", o.Token.String(), "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(http.MethodPatch, "/admin/orders/1", "", `{"status":"IN_PROGRESS"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"paid":true`)

	rr = do(http.MethodPost, "/orders/1/cancel?token="+o.Token.String(), "", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"ORDER_PAID"`)

	rr = do(http.MethodPatch, "/admin/orders/1", "", `{"status":"SHIPPED"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(http.MethodGet, "/admin/orders?status=in_progress", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-Total-Count"))

	rr = do(http.MethodGet, "/admin/orders/1/log", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[03/02/26 14:05:09] Payment confirmed manually\n", rr.Body.String())
}
