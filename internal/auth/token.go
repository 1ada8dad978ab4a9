// Package auth verifies bearer tokens issued by the storefront host. The
// host owns accounts; tokens carry the buyer profile used for VAT and the
// roles that gate order administration.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-eushop/internal/vat"
)

// Claim names in host tokens.
const (
	ClaimRoles           = "roles"
	ClaimBuyerType       = "buyer_type"
	ClaimLegalCountry    = "legal_country"
	ClaimDeliveryCountry = "delivery_country"
	ClaimVATNumber       = "vat_number"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Principal is what a verified token says about the caller.
type Principal struct {
	Subject string
	Roles   []string
	Profile vat.Profile
}

// HasRole reports whether role was granted.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Verifier checks signature and registered claims of HMAC-signed tokens.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// Verify parses token and extracts the principal.
func (v Verifier) Verify(token string) (Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || len(v.Secret) == 0 {
		return Principal{}, ErrInvalidToken
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.Validator.Algorithm != "" && algorithm != v.Validator.Algorithm {
		return Principal{}, fmt.Errorf("%w: unexpected algorithm %s", ErrInvalidToken, algorithm)
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if err := v.Validator.Validate(parsed, algorithm, now); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalOf(parsed), nil
}

func principalOf(tok jwt.Token) Principal {
	p := Principal{Subject: tok.Subject(), Roles: stringsClaim(tok, ClaimRoles)}
	if kind := stringClaim(tok, ClaimBuyerType); kind != "" {
		p.Profile = vat.Profile{
			Authenticated:   true,
			Buyer:           vat.ParseBuyerType(kind),
			LegalCountry:    strings.ToUpper(stringClaim(tok, ClaimLegalCountry)),
			DeliveryCountry: strings.ToUpper(stringClaim(tok, ClaimDeliveryCountry)),
			VATNumber:       stringClaim(tok, ClaimVATNumber),
		}
	}
	return p
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringsClaim(tok jwt.Token, name string) []string {
	v, ok := tok.Get(name)
	if !ok {
		return nil
	}
	switch vals := v.(type) {
	case string:
		return strings.Fields(vals)
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" || alg == jwa.NoSignature {
			return "", errors.New("token missing algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("token signatures disagree on algorithm")
		}
	}
	return algorithm, nil
}

// TokenValidator checks registered claims and the signing algorithm.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate checks tok against now. Issuer and audience are only enforced when set.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return fmt.Errorf("unexpected token algorithm %s", algorithm)
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}
