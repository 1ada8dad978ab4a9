// Package payment connects orders to payment providers: the redirect a buyer
// follows after checkout and the notifications a provider sends back.
package payment

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/noah-isme/backend-eushop/internal/order"
)

var (
	// ErrSignatureInvalid is returned when a notification fails its integrity check.
	ErrSignatureInvalid = errors.New("payment signature invalid")
	// ErrMalformed is returned for notifications that cannot be decoded.
	ErrMalformed = errors.New("malformed payment notification")
	// ErrNoNotifications is returned by providers that never call back.
	ErrNoNotifications = errors.New("provider does not send notifications")
)

// Redirect tells the client where the buyer goes next.
type Redirect struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Instructions map[string]string `json:"instructions,omitempty"`
}

// Provider is a payment method.
type Provider interface {
	Name() string
	RedirectResponse(ctx context.Context, o order.Order) (Redirect, error)
	ParseResponse(r *http.Request, body []byte) (order.Outcome, error)
}

// Registry holds the enabled providers by method name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		reg.providers[strings.ToLower(p.Name())] = p
	}
	return reg
}

// Get looks a provider up by method name, case-insensitively.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists the enabled methods in a stable order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
