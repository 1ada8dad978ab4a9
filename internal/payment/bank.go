package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/noah-isme/backend-eushop/internal/order"
)

// BankTransfer sends the buyer to a thank-you page with transfer details.
// Payment is confirmed by staff, so it never receives notifications.
type BankTransfer struct {
	SuccessURL  string
	Beneficiary string
	IBAN        string
	BIC         string
}

func (BankTransfer) Name() string { return "bank" }

func (b BankTransfer) RedirectResponse(_ context.Context, o order.Order) (Redirect, error) {
	if b.SuccessURL == "" {
		return Redirect{}, errors.New("bank transfer: success url not configured")
	}
	u, err := url.Parse(b.SuccessURL)
	if err != nil {
		return Redirect{}, err
	}
	q := u.Query()
	q.Set("order", o.Reference())
	q.Set("token", o.Token.String())
	u.RawQuery = q.Encode()
	return Redirect{
		Method: b.Name(),
		URL:    u.String(),
		Instructions: map[string]string{
			"beneficiary": b.Beneficiary,
			"iban":        b.IBAN,
			"bic":         b.BIC,
			"reference":   o.Reference(),
			"amount":      o.Total().StringFixed(2),
		},
	}, nil
}

func (BankTransfer) ParseResponse(*http.Request, []byte) (order.Outcome, error) {
	return order.Outcome{}, ErrNoNotifications
}
