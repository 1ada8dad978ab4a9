package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/pricing"
	"github.com/noah-isme/backend-eushop/internal/promo"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store    Store
	Catalog  Catalog
	Promos   PromoStore
	Delivery DeliveryStore
	// Pricing quotes delivery; defaults to delivery.TierPricing.
	Pricing      delivery.Pricing
	MerchantVAT  decimal.Decimal
	PromoEnabled bool
	TTL          time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Service encapsulates cart domain operations.
type Service struct {
	store        Store
	catalog      Catalog
	promos       PromoStore
	delivery     DeliveryStore
	pricing      delivery.Pricing
	merchantVAT  decimal.Decimal
	promoEnabled bool
	ttl          time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("cart: store required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("cart: catalog required")
	}
	s := &Service{
		store:        cfg.Store,
		catalog:      cfg.Catalog,
		promos:       cfg.Promos,
		delivery:     cfg.Delivery,
		pricing:      cfg.Pricing,
		merchantVAT:  cfg.MerchantVAT,
		promoEnabled: cfg.PromoEnabled,
		ttl:          cfg.TTL,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
	if s.pricing == nil {
		s.pricing = delivery.TierPricing{}
	}
	if s.ttl <= 0 {
		s.ttl = 7 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// PromoEnabled reports whether promo codes are honoured.
func (s *Service) PromoEnabled() bool { return s.promoEnabled }

// Create opens an empty cart.
func (s *Service) Create(ctx context.Context) (Cart, error) {
	now := s.now().UTC()
	c := Cart{ID: uuid.New(), ExpiresAt: now.Add(s.ttl), CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateCart(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Get returns a cart that has not expired.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Cart, error) {
	c, err := s.store.GetCart(ctx, id)
	if err != nil {
		return Cart{}, err
	}
	if !c.CheckedOut && !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(s.now()) {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

func (s *Service) mutable(ctx context.Context, id uuid.UUID) (Cart, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Cart{}, err
	}
	if c.CheckedOut {
		return Cart{}, ErrCheckedOut
	}
	return c, nil
}

// touch extends the cart's expiry after a write. The write already
// succeeded, so a failure here is only logged.
func (s *Service) touch(ctx context.Context, id uuid.UUID) {
	if err := s.store.Touch(ctx, id, s.now().UTC().Add(s.ttl)); err != nil {
		s.logger.Warn().Err(err).Str("cart_id", id.String()).Msg("extend cart expiry failed")
	}
}

// AddRequest asks for qty more of a product or variation.
type AddRequest struct {
	ProductID   int64  `json:"productId" validate:"required,gt=0"`
	VariationID *int64 `json:"variationId,omitempty" validate:"omitempty,gt=0"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
}

// Add puts qty units on the cart, merging with an existing line. The stock
// check reads the current stock; a *StockExceededError leaves the cart as it was.
func (s *Service) Add(ctx context.Context, cartID uuid.UUID, req AddRequest) (Item, error) {
	if req.Quantity <= 0 || req.ProductID <= 0 {
		return Item{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if _, err := s.mutable(ctx, cartID); err != nil {
		return Item{}, err
	}
	item, err := s.add(ctx, cartID, req)
	if err != nil {
		return Item{}, err
	}
	s.touch(ctx, cartID)
	return item, nil
}

func (s *Service) add(ctx context.Context, cartID uuid.UUID, req AddRequest) (Item, error) {
	p, err := s.catalog.Purchasable(ctx, req.ProductID, req.VariationID)
	if err != nil {
		return Item{}, err
	}
	existing, err := s.store.FindItem(ctx, cartID, req.ProductID, req.VariationID)
	switch {
	case err == nil:
		qty := existing.Quantity + req.Quantity
		if qty > p.Stock {
			return Item{}, &StockExceededError{ProductID: p.ProductID, VariationID: p.VariationID, Title: existing.Title, Requested: qty, Available: p.Stock}
		}
		if err := s.store.UpdateItemQuantity(ctx, cartID, existing.ID, qty); err != nil {
			return Item{}, err
		}
		existing.Quantity = qty
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return Item{}, err
	}

	if req.Quantity > p.Stock {
		return Item{}, &StockExceededError{ProductID: p.ProductID, VariationID: p.VariationID, Title: p.Title, Requested: req.Quantity, Available: p.Stock}
	}
	item := Item{
		ID:          uuid.New(),
		CartID:      cartID,
		ProductID:   p.ProductID,
		VariationID: p.VariationID,
		Title:       p.Title,
		Quantity:    req.Quantity,
		UnitPrice:   p.Price,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// AddMany adds several lines. Lines over stock are skipped and reported;
// the rest are applied.
func (s *Service) AddMany(ctx context.Context, cartID uuid.UUID, reqs []AddRequest) ([]*StockExceededError, error) {
	if _, err := s.mutable(ctx, cartID); err != nil {
		return nil, err
	}
	var warnings []*StockExceededError
	for _, req := range reqs {
		if req.Quantity <= 0 {
			continue
		}
		_, err := s.add(ctx, cartID, req)
		var stockErr *StockExceededError
		if errors.As(err, &stockErr) {
			warnings = append(warnings, stockErr)
			continue
		}
		if err != nil {
			return warnings, err
		}
	}
	s.touch(ctx, cartID)
	return warnings, nil
}

// Update sets a line's quantity. Zero or less removes the line.
func (s *Service) Update(ctx context.Context, cartID, itemID uuid.UUID, qty int) error {
	if _, err := s.mutable(ctx, cartID); err != nil {
		return err
	}
	if qty <= 0 {
		return s.Remove(ctx, cartID, itemID)
	}
	items, err := s.store.Items(ctx, cartID)
	if err != nil {
		return err
	}
	var item *Item
	for i := range items {
		if items[i].ID == itemID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return ErrNotFound
	}
	p, err := s.catalog.Purchasable(ctx, item.ProductID, item.VariationID)
	if err != nil {
		return err
	}
	if qty > p.Stock {
		return &StockExceededError{ProductID: item.ProductID, VariationID: item.VariationID, Title: item.Title, Requested: qty, Available: p.Stock}
	}
	if err := s.store.UpdateItemQuantity(ctx, cartID, itemID, qty); err != nil {
		return err
	}
	s.touch(ctx, cartID)
	return nil
}

// Remove deletes a line.
func (s *Service) Remove(ctx context.Context, cartID, itemID uuid.UUID) error {
	if _, err := s.mutable(ctx, cartID); err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, cartID, itemID); err != nil {
		return err
	}
	s.touch(ctx, cartID)
	return nil
}

// ApplyPromo attaches a promo code after checking it against the current subtotal.
func (s *Service) ApplyPromo(ctx context.Context, cartID uuid.UUID, code string) (promo.Code, error) {
	if !s.promoEnabled || s.promos == nil {
		return promo.Code{}, ErrPromoDisabled
	}
	if _, err := s.mutable(ctx, cartID); err != nil {
		return promo.Code{}, err
	}
	pc, err := s.promos.PromoByCode(ctx, promo.Normalize(code))
	if err != nil {
		return promo.Code{}, err
	}
	items, err := s.store.Items(ctx, cartID)
	if err != nil {
		return promo.Code{}, err
	}
	if err := pc.Validate(s.now(), pricing.SubtotalOf(Lines(items))); err != nil {
		return promo.Code{}, err
	}
	id := pc.ID
	if err := s.store.SetPromo(ctx, cartID, &id); err != nil {
		return promo.Code{}, err
	}
	s.touch(ctx, cartID)
	return pc, nil
}

// ClearPromo detaches the promo code.
func (s *Service) ClearPromo(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.mutable(ctx, cartID); err != nil {
		return err
	}
	return s.store.SetPromo(ctx, cartID, nil)
}

// SetDelivery stores the delivery choice used for quotes. A nil type clears it.
func (s *Service) SetDelivery(ctx context.Context, cartID uuid.UUID, typeID *int64, country string) error {
	if _, err := s.mutable(ctx, cartID); err != nil {
		return err
	}
	if typeID != nil && len(country) != 2 {
		return fmt.Errorf("delivery country must be an ISO 3166 code: %w", ErrInvalidInput)
	}
	if typeID != nil && s.delivery != nil {
		if _, err := s.delivery.DeliveryType(ctx, *typeID); err != nil {
			return err
		}
	}
	return s.store.SetDelivery(ctx, cartID, typeID, country)
}

// Quote is a priced cart.
type Quote struct {
	Cart     Cart            `json:"cart"`
	Items    []Item          `json:"items"`
	Summary  pricing.Summary `json:"summary"`
	Delivery *delivery.Quote `json:"delivery,omitempty"`
	Promo    *promo.Code     `json:"promo,omitempty"`
}

// Quote prices the cart for the given VAT rates.
func (s *Service) Quote(ctx context.Context, cartID uuid.UUID, rates vat.Rates) (Quote, error) {
	if _, err := s.Get(ctx, cartID); err != nil {
		return Quote{}, err
	}
	return s.QuoteWith(ctx, s.store, cartID, rates)
}

// QuoteWith prices a cart read through r, which may be bound to a transaction.
func (s *Service) QuoteWith(ctx context.Context, r Reader, cartID uuid.UUID, rates vat.Rates) (Quote, error) {
	c, err := r.GetCart(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	items, err := r.Items(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	return s.price(ctx, c, items, rates)
}

func (s *Service) price(ctx context.Context, c Cart, items []Item, rates vat.Rates) (Quote, error) {
	lines := Lines(items)
	q := Quote{Cart: c, Items: items}
	in := pricing.Input{
		Lines:        lines,
		VAT:          s.merchantVAT,
		Rates:        rates,
		FlatDiscount: c.FlatDiscount,
		PromoEnabled: s.promoEnabled,
		Now:          s.now(),
	}
	if s.promoEnabled && c.PromoCodeID != nil && s.promos != nil {
		pc, err := s.promos.PromoByID(ctx, *c.PromoCodeID)
		switch {
		case err == nil:
			in.Promo = &pc
			q.Promo = &pc
		case !errors.Is(err, promo.ErrNotFound):
			return Quote{}, err
		}
	}
	if c.DeliveryTypeID != nil && s.delivery != nil {
		t, err := s.delivery.DeliveryType(ctx, *c.DeliveryTypeID)
		if err != nil {
			return Quote{}, err
		}
		dq := s.pricing.Quote(t, c.DeliveryCountry, Aggregate(lines))
		in.Delivery = dq.Amount()
		q.Delivery = &dq
	}
	q.Summary = pricing.Compute(in)
	return q, nil
}

// Lines converts cart items into pricing lines.
func Lines(items []Item) []pricing.Line {
	out := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		out = append(out, pricing.Line{
			ItemID:      it.ID.String(),
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Title:       it.Title,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return out
}

// Aggregate is the delivery pricing basis of lines.
func Aggregate(lines []pricing.Line) delivery.Aggregate {
	qty := 0
	for _, l := range lines {
		qty += l.Quantity
	}
	return delivery.Aggregate{Quantity: qty, Subtotal: pricing.SubtotalOf(lines)}
}
