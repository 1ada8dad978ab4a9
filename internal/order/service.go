package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned when the order kept changing underneath an update.
var ErrConflict = errors.New("order changed concurrently")

// Notifier sends buyer notifications. Failures are logged, never returned.
type Notifier interface {
	Send(ctx context.Context, key string, vars map[string]any, recipients []string) error
}

// Outcome is a payment result reported by a payment provider.
type Outcome struct {
	OrderID   int64
	Paid      bool
	PaymentID string
	// Amount is the amount the provider says was paid, when it says so.
	Amount decimal.NullDecimal
	Note   string
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store    Store
	Notifier Notifier
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Service drives orders through their post-checkout lifecycle.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("order: store required")
	}
	s := &Service{store: cfg.Store, notifier: cfg.Notifier, now: cfg.Now, log: cfg.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Load returns an order by id.
func (s *Service) Load(ctx context.Context, id int64) (Order, error) {
	return s.store.Get(ctx, id)
}

// Get returns an order to the buyer holding its access token.
func (s *Service) Get(ctx context.Context, id int64, token uuid.UUID) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.Token != token {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// Cancel cancels the buyer's unpaid order.
func (s *Service) Cancel(ctx context.Context, id int64, token uuid.UUID) (Order, error) {
	if _, err := s.Get(ctx, id, token); err != nil {
		return Order{}, err
	}
	return s.update(ctx, id, func(o *Order) error { return o.Cancel(s.now()) })
}

// SetStatus is the back-office transition. IN_PROGRESS confirms a manual
// payment such as a bank transfer.
func (s *Service) SetStatus(ctx context.Context, id int64, target Status) (Order, error) {
	switch target {
	case StatusCanceled:
		return s.update(ctx, id, func(o *Order) error { return o.Cancel(s.now()) })
	case StatusCompleted:
		return s.update(ctx, id, func(o *Order) error { return o.Complete(s.now()) })
	case StatusInProgress:
		o, err := s.update(ctx, id, func(o *Order) error { return o.MarkPaid(s.now(), o.PaymentID, "Payment confirmed manually") })
		if err == nil {
			s.notify(ctx, "order_paid", o)
		}
		return o, err
	}
	return Order{}, ErrInvalidTransition
}

// ApplyOutcome records a provider's payment result. A paid outcome whose
// amount differs from the order total is logged and not applied.
func (s *Service) ApplyOutcome(ctx context.Context, out Outcome) (Order, error) {
	if !out.Paid {
		return s.update(ctx, out.OrderID, func(o *Order) error {
			if o.Paid {
				return ErrAlreadyPaid
			}
			o.AppendLog(s.now(), failureNote(out))
			return nil
		})
	}
	var mismatch bool
	o, err := s.update(ctx, out.OrderID, func(o *Order) error {
		mismatch = false
		if out.Amount.Valid && !out.Amount.Decimal.Equal(o.Total()) {
			mismatch = true
			o.AppendLog(s.now(), fmt.Sprintf("Paid amount %s does not match total %s", out.Amount.Decimal.StringFixed(2), o.Total().StringFixed(2)))
			return nil
		}
		note := out.Note
		if note == "" {
			note = "Payment received: " + out.PaymentID
		}
		return o.MarkPaid(s.now(), out.PaymentID, note)
	})
	if err != nil {
		return Order{}, err
	}
	if mismatch {
		s.log.Warn().Int64("order_id", o.ID).Str("payment_id", out.PaymentID).Msg("payment amount mismatch")
		return o, nil
	}
	s.notify(ctx, "order_paid", o)
	return o, nil
}

// List returns one page of orders and the total count.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

func failureNote(out Outcome) string {
	if out.Note != "" {
		return out.Note
	}
	return "Payment failed"
}

// update applies fn to the freshest copy and saves it conditionally,
// retrying a few times when a concurrent writer moved the status.
func (s *Service) update(ctx context.Context, id int64, fn func(*Order) error) (Order, error) {
	for attempt := 0; attempt < 3; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		prev := o.Status
		if err := fn(&o); err != nil {
			return o, err
		}
		ok, err := s.store.Save(ctx, o, prev)
		if err != nil {
			return Order{}, err
		}
		if ok {
			return o, nil
		}
	}
	return Order{}, ErrConflict
}

func (s *Service) notify(ctx context.Context, key string, o Order) {
	if s.notifier == nil || o.Buyer.Email == "" {
		return
	}
	vars := map[string]any{
		"reference": o.Reference(),
		"total":     o.Total().StringFixed(2),
		"name":      o.Buyer.FirstName,
	}
	if err := s.notifier.Send(ctx, key, vars, []string{o.Buyer.Email}); err != nil {
		s.log.Warn().Err(err).Str("template", key).Int64("order_id", o.ID).Msg("order notification failed")
	}
}
