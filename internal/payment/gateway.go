package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/order"
)

// SignedGateway is a hosted payment page. Redirects and notifications are
// signed with HMAC-SHA512 over the concatenated fields plus the secret.
type SignedGateway struct {
	Method    string
	BaseURL   string
	Merchant  string
	Secret    string
	ReturnURL string
	Currency  string
}

func (g SignedGateway) Name() string {
	if g.Method == "" {
		return "card"
	}
	return g.Method
}

func (g SignedGateway) currency() string {
	if g.Currency == "" {
		return "EUR"
	}
	return g.Currency
}

// RedirectResponse builds the signed gateway URL for o.
func (g SignedGateway) RedirectResponse(_ context.Context, o order.Order) (Redirect, error) {
	if strings.TrimSpace(g.BaseURL) == "" || strings.TrimSpace(g.Secret) == "" {
		return Redirect{}, errors.New("gateway: base url and secret required")
	}
	if o.ID == 0 {
		return Redirect{}, errors.New("gateway: order id is required")
	}
	orderID := strconv.FormatInt(o.ID, 10)
	amount := o.Total().StringFixed(2)
	q := url.Values{}
	q.Set("merchant", g.Merchant)
	q.Set("order_id", orderID)
	q.Set("reference", o.Reference())
	q.Set("amount", amount)
	q.Set("currency", g.currency())
	if g.ReturnURL != "" {
		q.Set("return_url", g.ReturnURL)
	}
	q.Set("signature", g.Sign(g.Merchant, orderID, amount, g.currency()))
	return Redirect{
		Method: g.Name(),
		URL:    strings.TrimRight(g.BaseURL, "/") + "/pay?" + q.Encode(),
	}, nil
}

type gatewayNotification struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	GrossAmount   string `json:"gross_amount"`
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
}

// ParseResponse verifies and decodes a gateway notification.
func (g SignedGateway) ParseResponse(_ *http.Request, body []byte) (order.Outcome, error) {
	var n gatewayNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return order.Outcome{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	expected := g.Sign(n.OrderID, n.Status, n.GrossAmount)
	provided := strings.ToLower(strings.TrimSpace(n.Signature))
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return order.Outcome{}, ErrSignatureInvalid
	}
	id, err := strconv.ParseInt(n.OrderID, 10, 64)
	if err != nil || id <= 0 {
		return order.Outcome{}, fmt.Errorf("%w: order id %q", ErrMalformed, n.OrderID)
	}
	out := order.Outcome{OrderID: id, PaymentID: n.TransactionID}
	if strings.TrimSpace(n.GrossAmount) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(n.GrossAmount))
		if err != nil {
			return order.Outcome{}, fmt.Errorf("%w: amount %q", ErrMalformed, n.GrossAmount)
		}
		out.Amount = decimal.NewNullDecimal(amount)
	}
	switch status := strings.ToLower(strings.TrimSpace(n.Status)); status {
	case "capture", "settlement", "paid":
		out.Paid = true
		out.Note = fmt.Sprintf("Payment received via %s: %s", g.Name(), n.TransactionID)
	case "pending":
		out.Note = "Payment pending: " + n.TransactionID
	default:
		out.Note = fmt.Sprintf("Payment %s: %s", status, n.TransactionID)
	}
	return out, nil
}

// Sign is the hex HMAC-SHA512 of the fields followed by the secret.
func (g SignedGateway) Sign(fields ...string) string {
	key := strings.TrimSpace(g.Secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	for _, f := range fields {
		mac.Write([]byte(f))
	}
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
