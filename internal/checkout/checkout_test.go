package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/checkout"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/lock"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/payment"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memStore backs both the cart service and the checkout transaction.
type memStore struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	carts     map[uuid.UUID]cart.Cart
	items     map[uuid.UUID][]cart.Item
	products  map[int64]cart.Purchasable
	types     map[int64]delivery.Type
	countries map[string]vat.Country
	orders    []order.Order
	// lostFreeze makes MarkCheckedOut behave as if another request froze the cart first.
	lostFreeze bool
}

func newMemStore() *memStore {
	return &memStore{
		carts: map[uuid.UUID]cart.Cart{},
		items: map[uuid.UUID][]cart.Item{},
		products: map[int64]cart.Purchasable{
			1: {ProductID: 1, Title: "Boots", Price: dec("10.00"), Stock: 5},
		},
		types: map[int64]delivery.Type{
			1: {ID: 1, Title: "Courier", Model: delivery.FlatByQuantity, Countries: []string{"LV", "EE"}, Tiers: []delivery.Tier{
				{UpTo: dec("10"), Price: dec("3.50")},
			}},
			2: {ID: 2, Title: "Pickup", Model: delivery.FlatByQuantity, Countries: []string{"LV"}, Tiers: []delivery.Tier{
				{UpTo: dec("1"), Price: dec("1.00")},
			}},
		},
		countries: map[string]vat.Country{
			"LV": {ISO2: "LV", Title: "Latvia", Behavior: vat.NothingToDo, VAT: dec("0.21")},
			"EE": {ISO2: "EE", Title: "Estonia", Behavior: vat.EUOSS, VAT: dec("0.22")},
			"LT": {ISO2: "LT", Title: "Lithuania", Behavior: vat.EUOSS, VAT: dec("0.21")},
		},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(checkout.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	orders := len(m.orders)
	carts := make(map[uuid.UUID]cart.Cart, len(m.carts))
	for k, v := range m.carts {
		carts[k] = v
	}
	m.mu.Unlock()
	if err := fn(m); err != nil {
		m.mu.Lock()
		m.orders = m.orders[:orders]
		m.carts = carts
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) CreateCart(_ context.Context, c cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.ID] = c
	return nil
}

func (m *memStore) GetCart(_ context.Context, id uuid.UUID) (cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	return c, nil
}

func (m *memStore) Items(_ context.Context, id uuid.UUID) ([]cart.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cart.Item(nil), m.items[id]...), nil
}

func (m *memStore) FindItem(_ context.Context, cartID uuid.UUID, productID int64, variationID *int64) (cart.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items[cartID] {
		if it.ProductID == productID && (it.VariationID == nil) == (variationID == nil) {
			return it, nil
		}
	}
	return cart.Item{}, cart.ErrNotFound
}

func (m *memStore) InsertItem(_ context.Context, it cart.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.CartID] = append(m.items[it.CartID], it)
	return nil
}

func (m *memStore) UpdateItemQuantity(_ context.Context, cartID, itemID uuid.UUID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items[cartID] {
		if it.ID == itemID {
			m.items[cartID][i].Quantity = qty
			return nil
		}
	}
	return cart.ErrNotFound
}

func (m *memStore) DeleteItem(_ context.Context, cartID, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[cartID][:0]
	for _, it := range m.items[cartID] {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	m.items[cartID] = kept
	return nil
}

func (m *memStore) SetPromo(context.Context, uuid.UUID, *int64) error { return nil }

func (m *memStore) SetDelivery(_ context.Context, id uuid.UUID, typeID *int64, country string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[id]
	c.DeliveryTypeID, c.DeliveryCountry = typeID, country
	m.carts[id] = c
	return nil
}

func (m *memStore) Touch(context.Context, uuid.UUID, time.Time) error { return nil }

func (m *memStore) Purchasable(_ context.Context, productID int64, _ *int64) (cart.Purchasable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return cart.Purchasable{}, cart.ErrUnavailable
	}
	return p, nil
}

func (m *memStore) DeliveryType(_ context.Context, id int64) (delivery.Type, error) {
	t, ok := m.types[id]
	if !ok {
		return delivery.Type{}, delivery.ErrNotFound
	}
	return t, nil
}

func (m *memStore) Country(_ context.Context, iso2 string) (vat.Country, error) {
	c, ok := m.countries[iso2]
	if !ok {
		return vat.Country{}, vat.ErrUnknownCountry
	}
	return c, nil
}

func (m *memStore) CreateOrder(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = int64(len(m.orders) + 1)
	m.orders = append(m.orders, *o)
	return nil
}

func (m *memStore) MarkCheckedOut(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[id]
	if c.CheckedOut || m.lostFreeze {
		return false, nil
	}
	c.CheckedOut = true
	m.carts[id] = c
	return true, nil
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memNotifier struct {
	mu   sync.Mutex
	keys []string
	to   []string
	fail bool
}

func (n *memNotifier) Send(_ context.Context, key string, _ map[string]any, to []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
	n.to = append(n.to, to...)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

type fixture struct {
	store    *memStore
	notifier *memNotifier
	carts    *cart.Service
	svc      *checkout.Service
	mr       *miniredis.Miniredis
	cartID   uuid.UUID
}

func newFixture(t *testing.T, deliveryRequired bool) fixture {
	t.Helper()
	store := newMemStore()
	carts, err := cart.NewService(cart.ServiceConfig{
		Store:       store,
		Catalog:     store,
		Delivery:    store,
		MerchantVAT: dec("0.21"),
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	notifier := &memNotifier{}
	svc, err := checkout.NewService(checkout.Config{
		Tx:               store,
		Carts:            carts,
		Payments:         payment.NewRegistry(payment.BankTransfer{SuccessURL: "https://shop.example.test/thanks"}),
		Policy:           vat.NewOSSResolver(vat.Merchant{Country: "LV", VAT: dec("0.21")}),
		Locker:           lock.Locker{R: rdb},
		Notifier:         notifier,
		DeliveryRequired: deliveryRequired,
		Now:              func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	ctx := context.Background()
	c, err := carts.Create(ctx)
	require.NoError(t, err)
	_, err = carts.Add(ctx, c.ID, cart.AddRequest{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	return fixture{store: store, notifier: notifier, carts: carts, svc: svc, mr: mr, cartID: c.ID}
}

func ptr(v int64) *int64 { return &v }

func individualForm(cartID uuid.UUID) checkout.Form {
	return checkout.Form{
		CartID:         cartID,
		BuyerType:      "individual",
		FirstName:      "Anna",
		LastName:       "Berzina",
		Email:          "anna@example.com",
		DeliveryTypeID: ptr(1),
		Country:        "lv",
		City:           "Riga",
		Address:        "Brivibas iela 1",
		Zip:            "LV-1010",
		PaymentMethod:  "bank",
		IAgree:         true,
	}
}

func fieldsOf(t *testing.T, err error) checkout.FieldErrors {
	t.Helper()
	var fields checkout.FieldErrors
	require.ErrorAs(t, err, &fields)
	return fields
}

func TestSubmitPlacesOrder(t *testing.T) {
	obs.MustRegisterDomainMetrics("eushop", prometheus.NewRegistry())
	placedBefore := testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("placed"))

	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, individualForm(f.cartID))
	require.NoError(t, err)

	o := res.Order
	require.Equal(t, int64(1), o.ID)
	require.Equal(t, "QS1", o.Reference())
	require.Equal(t, order.StatusNew, o.Status)
	require.NotEqual(t, uuid.Nil, o.Token)
	require.Equal(t, "20.00", o.CartPrice.StringFixed(2))
	require.Equal(t, "3.50", o.DeliveryPrice.StringFixed(2))
	require.Equal(t, "23.50", o.Total().StringFixed(2))
	require.Equal(t, "Courier", o.Shipping.DeliveryTitle)
	require.Equal(t, "LV", o.Shipping.Country)
	require.Equal(t, "bank", o.PaymentMethod)
	require.Len(t, o.Lines, 1)
	require.Contains(t, o.PaymentLog, "Order created")

	require.NotNil(t, res.Redirect)
	require.Contains(t, res.Redirect.URL, "order=QS1")
	require.Equal(t, []string{checkout.NotifyTemplate}, f.notifier.keys)
	require.Equal(t, []string{"anna@example.com"}, f.notifier.to)

	c, err := f.carts.Get(ctx, f.cartID)
	require.NoError(t, err)
	require.True(t, c.CheckedOut)
	require.False(t, f.mr.Exists("lock:checkout:"+f.cartID.String()))
	require.Equal(t, placedBefore+1, testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("placed")))

	_, err = f.svc.Submit(ctx, individualForm(f.cartID))
	require.ErrorIs(t, err, cart.ErrCheckedOut)
	require.Equal(t, 1, f.store.orderCount())

	_, err = f.carts.Add(ctx, f.cartID, cart.AddRequest{ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, cart.ErrCheckedOut)
}

func TestSubmitLegalBuyerReverseCharge(t *testing.T) {
	f := newFixture(t, false)
	form := individualForm(f.cartID)
	form.BuyerType = "legal"
	form.LegalName = "Tamm OU"
	form.RegNumber = "12345678"
	form.VATNumber = "EE123456789"
	form.BankName = "LHV"
	form.BankAccount = "221"
	form.IBAN = "ee38 2200 2210 2014 5685"
	form.LegalCountry = "ee"
	form.LegalCity = "Tallinn"
	form.LegalAddress = "Narva mnt 5"
	form.LegalZip = "10117"
	form.Country = "EE"

	res, err := f.svc.Submit(context.Background(), form)
	require.NoError(t, err)
	o := res.Order
	require.True(t, o.Rates.Reduct.Equal(dec("0.21")))
	require.True(t, o.Rates.Apply.IsZero())
	require.Equal(t, "16.52", o.CartPrice.StringFixed(2))
	require.Equal(t, "3.48", o.VATReduction.StringFixed(2))
	require.Equal(t, "20.02", o.Total().StringFixed(2))
	require.Equal(t, vat.Legal, o.Buyer.Type)
	require.Equal(t, "EE382200221020145685", o.Buyer.IBAN)
	require.Equal(t, "EE", o.Buyer.Country)
}

func TestValidationRules(t *testing.T) {
	tests := []struct {
		name             string
		deliveryRequired bool
		mutate           func(*checkout.Form)
		want             map[string]string
	}{
		{
			name: "legal buyer needs billing fields",
			mutate: func(f *checkout.Form) {
				f.BuyerType = "legal"
			},
			want: map[string]string{
				"legalName": checkout.MsgRequired, "regNumber": checkout.MsgRequired, "bankName": checkout.MsgRequired,
				"bankAccount": checkout.MsgRequired, "iban": checkout.MsgRequired, "legalCountry": checkout.MsgRequired,
				"legalCity": checkout.MsgRequired, "legalAddress": checkout.MsgRequired, "legalZip": checkout.MsgRequired,
			},
		},
		{
			name:             "delivery fields required when configured",
			deliveryRequired: true,
			mutate: func(f *checkout.Form) {
				f.DeliveryTypeID = nil
				f.Country, f.City, f.Address, f.Zip = "", "", "", ""
			},
			want: map[string]string{
				"deliveryTypeId": checkout.MsgRequired, "country": checkout.MsgRequired, "city": checkout.MsgRequired,
				"address": checkout.MsgRequired, "zip": checkout.MsgRequired,
			},
		},
		{
			name:   "terms must be accepted",
			mutate: func(f *checkout.Form) { f.IAgree = false },
			want:   map[string]string{"iAgree": "You must accept the terms."},
		},
		{
			name:   "unknown payment method",
			mutate: func(f *checkout.Form) { f.PaymentMethod = "crypto" },
			want:   map[string]string{"paymentMethod": checkout.MsgUnknownPayment},
		},
		{
			name:   "delivery type does not serve country",
			mutate: func(f *checkout.Form) { f.Country = "LT" },
			want:   map[string]string{"deliveryTypeId": checkout.MsgCannotDeliver},
		},
		{
			name:   "unknown delivery country",
			mutate: func(f *checkout.Form) { f.Country = "XX" },
			want:   map[string]string{"country": checkout.MsgUnknownCountry},
		},
		{
			name:   "unknown delivery type",
			mutate: func(f *checkout.Form) { f.DeliveryTypeID = ptr(99) },
			want:   map[string]string{"deliveryTypeId": checkout.MsgUnknownDelivery},
		},
		{
			name:   "no tier for the cart",
			mutate: func(f *checkout.Form) { f.DeliveryTypeID = ptr(2) },
			want:   map[string]string{"deliveryTypeId": checkout.MsgNotDeliverable},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.deliveryRequired)
			form := individualForm(f.cartID)
			tc.mutate(&form)

			require.Equal(t, checkout.FieldErrors(tc.want), fieldsOf(t, f.svc.Validate(context.Background(), form)))
			_, err := f.svc.Submit(context.Background(), form)
			require.Equal(t, checkout.FieldErrors(tc.want), fieldsOf(t, err))
			require.Zero(t, f.store.orderCount())
			c, err := f.carts.Get(context.Background(), f.cartID)
			require.NoError(t, err)
			require.False(t, c.CheckedOut)
		})
	}
}

func TestNoDeliveryWhenNotRequired(t *testing.T) {
	f := newFixture(t, false)
	form := individualForm(f.cartID)
	form.DeliveryTypeID = nil
	form.Country, form.City, form.Address, form.Zip = "", "", "", ""
	res, err := f.svc.Submit(context.Background(), form)
	require.NoError(t, err)
	require.Nil(t, res.Order.Shipping.DeliveryTypeID)
	require.True(t, res.Order.DeliveryPrice.IsZero())
	require.Equal(t, "20.00", res.Order.Total().StringFixed(2))
}

func TestStockBoughtMeanwhile(t *testing.T) {
	f := newFixture(t, false)
	f.store.mu.Lock()
	p := f.store.products[1]
	p.Stock = 1
	f.store.products[1] = p
	f.store.mu.Unlock()

	_, err := f.svc.Submit(context.Background(), individualForm(f.cartID))
	require.Equal(t, checkout.FieldErrors{"items": checkout.MsgSoldOut}, fieldsOf(t, err))
	require.Zero(t, f.store.orderCount())
}

func TestEmptyCart(t *testing.T) {
	f := newFixture(t, false)
	c, err := f.carts.Create(context.Background())
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), individualForm(c.ID))
	require.Equal(t, checkout.FieldErrors{"items": checkout.MsgEmptyCart}, fieldsOf(t, err))
}

func TestConcurrentFreezeRollsBack(t *testing.T) {
	f := newFixture(t, false)
	f.store.lostFreeze = true
	_, err := f.svc.Submit(context.Background(), individualForm(f.cartID))
	require.ErrorIs(t, err, cart.ErrCheckedOut)
	require.Zero(t, f.store.orderCount())
	require.Empty(t, f.notifier.keys)
}

func TestLockHeldMeansInProgress(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.mr.Set("lock:checkout:"+f.cartID.String(), "other"))
	_, err := f.svc.Submit(context.Background(), individualForm(f.cartID))
	require.ErrorIs(t, err, checkout.ErrInProgress)
	require.Zero(t, f.store.orderCount())
}

func TestNotificationFailureDoesNotFailCheckout(t *testing.T) {
	f := newFixture(t, false)
	f.notifier.fail = true
	res, err := f.svc.Submit(context.Background(), individualForm(f.cartID))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Order.ID)
	require.Equal(t, 1, f.store.orderCount())
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, false)
	h := &checkout.Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Post("/carts/{cartID}/checkout", h.Submit)
	r.Post("/carts/{cartID}/checkout/validate", h.Validate)

	do := func(path, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rr
	}
	base := "/carts/" + f.cartID.String() + "/checkout"
	valid := `{"buyerType":"individual","firstName":"Anna","lastName":"Berzina","email":"anna@example.com",
		"deliveryTypeId":1,"country":"LV","city":"Riga","address":"Brivibas iela 1","zip":"LV-1010",
		"paymentMethod":"bank","iAgree":true}`

	rr := do(base+"/validate", `{"buyerType":"legal","paymentMethod":"bank","iAgree":true}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"VALIDATION_FAILED"`)
	require.Contains(t, rr.Body.String(), `"legalName":"This field is required."`)

	rr = do(base+"/validate", valid)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(base, valid)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"reference":"QS1"`)
	require.Contains(t, rr.Body.String(), `"total":"23.50"`)
	require.Contains(t, rr.Body.String(), `"status":"NEW"`)

	rr = do(base, valid)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"CART_CHECKED_OUT"`)

	rr = do("/carts/"+uuid.NewString()+"/checkout", valid)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do("/carts/nope/checkout", valid)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, f.mr.Set("lock:checkout:"+f.cartID.String(), "other"))
	rr = do(base, valid)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"CHECKOUT_IN_PROGRESS"`)
}
