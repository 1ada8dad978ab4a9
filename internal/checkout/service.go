package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/lock"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/payment"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// ErrInProgress is returned while another checkout of the same cart runs.
var ErrInProgress = errors.New("checkout already in progress")

// NotifyTemplate is the notification sent to the buyer for a new order.
const NotifyTemplate = "order_sended"

var tracer = otel.Tracer("checkout")

// Quoter prices a cart read through a transaction-bound reader.
type Quoter interface {
	QuoteWith(ctx context.Context, r cart.Reader, cartID uuid.UUID, rates vat.Rates) (cart.Quote, error)
}

// Locker runs fn while holding key, failing fast with lock.ErrNotAcquired.
type Locker interface {
	Try(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Notifier delivers buyer notifications.
type Notifier interface {
	Send(ctx context.Context, key string, vars map[string]any, recipients []string) error
}

// Config configures a Service.
type Config struct {
	Tx       Transactor
	Carts    Quoter
	Payments *payment.Registry
	Policy   vat.Policy
	Locker   Locker
	LockTTL  time.Duration
	Notifier Notifier
	// DeliveryRequired makes delivery fields mandatory for every order.
	DeliveryRequired bool
	Now              func() time.Time
	Logger           zerolog.Logger
}

// Service orchestrates checkout.
type Service struct {
	cfg Config
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Tx == nil {
		return nil, errors.New("checkout: transactor required")
	}
	if cfg.Carts == nil {
		return nil, errors.New("checkout: cart quoter required")
	}
	if cfg.Payments == nil {
		return nil, errors.New("checkout: payment registry required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("checkout: vat policy required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}, nil
}

// Result is a placed order and where to send the buyer.
type Result struct {
	Order    order.Order       `json:"order"`
	Redirect *payment.Redirect `json:"redirect,omitempty"`
}

// prepared is a validated form with everything looked up.
type prepared struct {
	form     Form
	provider payment.Provider
	rates    vat.Rates
	dtype    *delivery.Type
	quote    cart.Quote
}

// Validate checks the form against the current cart without placing an order.
func (s *Service) Validate(ctx context.Context, f Form) error {
	if err := s.validateForm(&f); err != nil {
		return err
	}
	return s.cfg.Tx.WithinTx(ctx, func(st Store) error {
		_, err := s.prepare(ctx, st, f)
		return err
	})
}

// Submit places the order. At most one order is created per cart: the cart
// is frozen in the same transaction that writes the order.
func (s *Service) Submit(ctx context.Context, f Form) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", f.CartID.String()))
	defer func() {
		result := resultLabel(err)
		obs.Count(obs.CheckoutTotal, result)
		obs.Add(ctx, obs.CheckoutCounter, attribute.String("result", result))
	}()

	if err := s.validateForm(&f); err != nil {
		return Result{}, err
	}
	if s.cfg.Locker == nil {
		res, err = s.submit(ctx, f)
		return res, err
	}
	err = s.cfg.Locker.Try(ctx, "lock:checkout:"+f.CartID.String(), s.cfg.LockTTL, func(ctx context.Context) error {
		var inner error
		res, inner = s.submit(ctx, f)
		return inner
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return Result{}, ErrInProgress
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, f Form) (Result, error) {
	var placed order.Order
	var provider payment.Provider
	err := s.cfg.Tx.WithinTx(ctx, func(st Store) error {
		p, err := s.prepare(ctx, st, f)
		if err != nil {
			return err
		}
		placed = s.snapshot(p)
		if err := st.CreateOrder(ctx, &placed); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		frozen, err := st.MarkCheckedOut(ctx, f.CartID)
		if err != nil {
			return fmt.Errorf("freeze cart: %w", err)
		}
		if !frozen {
			return cart.ErrCheckedOut
		}
		provider = p.provider
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.cfg.Logger.Info().Int64("order_id", placed.ID).Str("cart_id", f.CartID.String()).Msg("order placed")

	res := Result{Order: placed}
	red, err := provider.RedirectResponse(ctx, placed)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Int64("order_id", placed.ID).Str("method", provider.Name()).Msg("payment redirect failed")
	} else {
		res.Redirect = &red
	}
	s.notify(ctx, placed)
	return res, nil
}

func (s *Service) validateForm(f *Form) error {
	f.normalize()
	fields, err := common.Fields(common.Validator().Struct(f))
	if err != nil {
		return err
	}
	out := FieldErrors{}
	for k, v := range fields {
		out[k] = v
	}
	if f.buyer() == vat.Legal && f.LegalCountry != "" && len(f.LegalCountry) != 2 {
		out.add("legalCountry", MsgUnknownCountry)
	}
	if f.wantsDelivery(s.cfg.DeliveryRequired) {
		if f.DeliveryTypeID == nil {
			out.add("deliveryTypeId", MsgRequired)
		}
		for field, v := range map[string]string{"country": f.Country, "city": f.City, "address": f.Address, "zip": f.Zip} {
			if v == "" {
				out.add(field, MsgRequired)
			}
		}
		if f.Country != "" && len(f.Country) != 2 {
			out.add("country", MsgUnknownCountry)
		}
	}
	if f.PaymentMethod != "" {
		if _, ok := s.cfg.Payments.Get(f.PaymentMethod); !ok {
			out.add("paymentMethod", MsgUnknownPayment)
		}
	}
	if len(out) > 0 {
		return out
	}
	return nil
}

// prepare runs the checks that need stored data and prices the cart.
func (s *Service) prepare(ctx context.Context, st Store, f Form) (prepared, error) {
	c, err := st.GetCart(ctx, f.CartID)
	if err != nil {
		return prepared{}, err
	}
	if c.CheckedOut {
		return prepared{}, cart.ErrCheckedOut
	}
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(s.cfg.Now()) {
		return prepared{}, cart.ErrNotFound
	}
	items, err := st.Items(ctx, f.CartID)
	if err != nil {
		return prepared{}, err
	}
	fields := FieldErrors{}
	if len(items) == 0 {
		fields.add("items", MsgEmptyCart)
	}
	for _, it := range items {
		p, err := st.Purchasable(ctx, it.ProductID, it.VariationID)
		switch {
		case errors.Is(err, cart.ErrUnavailable), errors.Is(err, cart.ErrNotFound):
			fields.add("items", MsgSoldOut)
		case err != nil:
			return prepared{}, err
		case it.Quantity > p.Stock:
			fields.add("items", MsgSoldOut)
		}
	}

	p := prepared{form: f}
	p.provider, _ = s.cfg.Payments.Get(f.PaymentMethod)
	in := vat.Input{Buyer: f.buyer(), VATNumber: f.VATNumber}
	if in.Buyer == vat.Legal {
		legal, err := st.Country(ctx, f.LegalCountry)
		switch {
		case errors.Is(err, vat.ErrUnknownCountry):
			fields.add("legalCountry", MsgUnknownCountry)
		case err != nil:
			return prepared{}, err
		default:
			in.Legal = &legal
		}
	}
	if f.wantsDelivery(s.cfg.DeliveryRequired) {
		dest, err := st.Country(ctx, f.Country)
		switch {
		case errors.Is(err, vat.ErrUnknownCountry):
			fields.add("country", MsgUnknownCountry)
		case err != nil:
			return prepared{}, err
		default:
			in.Delivery = &dest
		}
		t, err := st.DeliveryType(ctx, *f.DeliveryTypeID)
		switch {
		case errors.Is(err, delivery.ErrNotFound):
			fields.add("deliveryTypeId", MsgUnknownDelivery)
		case err != nil:
			return prepared{}, err
		case in.Delivery != nil && !t.Serves(f.Country):
			fields.add("deliveryTypeId", MsgCannotDeliver)
		default:
			p.dtype = &t
		}
	}
	if len(fields) > 0 {
		return prepared{}, fields
	}

	p.rates = s.cfg.Policy.Resolve(in)
	reader := deliveryOverride{Reader: st}
	if p.dtype != nil {
		reader.typeID = f.DeliveryTypeID
		reader.country = f.Country
	}
	q, err := s.cfg.Carts.QuoteWith(ctx, reader, f.CartID, p.rates)
	if err != nil {
		return prepared{}, err
	}
	if q.Delivery != nil && !q.Delivery.Deliverable() {
		return prepared{}, FieldErrors{"deliveryTypeId": MsgNotDeliverable}
	}
	p.quote = q
	return p, nil
}

func (s *Service) snapshot(p prepared) order.Order {
	now := s.cfg.Now().UTC()
	sum := p.quote.Summary
	o := order.Order{
		Token:         uuid.New(),
		CartID:        p.form.CartID,
		Status:        order.StatusNew,
		Buyer:         p.form.orderBuyer(),
		Lines:         sum.Lines,
		CartPrice:     sum.Items,
		Discount:      sum.Discount,
		DeliveryPrice: sum.Delivery,
		VATAmount:     sum.VAT,
		VATReduction:  sum.VATReduction,
		Rates:         p.rates,
		Comment:       p.form.Comment,
		PaymentMethod: p.provider.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.dtype != nil {
		o.Shipping = order.Shipping{
			DeliveryTypeID: p.form.DeliveryTypeID,
			DeliveryTitle:  p.dtype.Title,
			PickupPointID:  p.form.PickupPointID,
			Country:        p.form.Country,
			City:           p.form.City,
			Address:        p.form.Address,
			ZipCode:        p.form.Zip,
		}
	}
	if sum.PromoApplied && p.quote.Promo != nil {
		o.PromoCode = p.quote.Promo.Code
	}
	o.AppendLog(now, "Order created, payment method "+o.PaymentMethod)
	return o
}

func (s *Service) notify(ctx context.Context, o order.Order) {
	if s.cfg.Notifier == nil || o.Buyer.Email == "" {
		return
	}
	lines := make([]map[string]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, map[string]any{"title": l.Title, "quantity": l.Quantity, "total": l.Final.StringFixed(2)})
	}
	vars := map[string]any{
		"reference": o.Reference(),
		"name":      o.Buyer.FirstName,
		"total":     o.Total().StringFixed(2),
		"method":    o.PaymentMethod,
		"lines":     lines,
	}
	if err := s.cfg.Notifier.Send(ctx, NotifyTemplate, vars, []string{o.Buyer.Email}); err != nil {
		s.cfg.Logger.Warn().Err(err).Int64("order_id", o.ID).Msg("order notification failed")
	}
}

func resultLabel(err error) string {
	var fields FieldErrors
	switch {
	case err == nil:
		return "placed"
	case errors.As(err, &fields):
		return "invalid"
	case errors.Is(err, ErrInProgress):
		return "in_progress"
	case errors.Is(err, cart.ErrCheckedOut):
		return "checked_out"
	case errors.Is(err, cart.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
