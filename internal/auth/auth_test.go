package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/auth"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

var (
	secret = []byte("host-shared-secret")
	now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func verifier() auth.Verifier {
	return auth.Verifier{
		Secret:    secret,
		Validator: auth.TokenValidator{Issuer: "storefront", Audience: "eushop", ClockSkew: time.Second, Algorithm: jwa.HS256},
		Now:       func() time.Time { return now },
	}
}

type tokenOpts struct {
	issuer string
	exp    time.Time
	nbf    time.Time
	alg    jwa.SignatureAlgorithm
	key    []byte
	claims map[string]any
}

func sign(t *testing.T, o tokenOpts) string {
	t.Helper()
	if o.issuer == "" {
		o.issuer = "storefront"
	}
	if o.exp.IsZero() {
		o.exp = now.Add(time.Hour)
	}
	if o.nbf.IsZero() {
		o.nbf = now.Add(-time.Minute)
	}
	if o.alg == "" {
		o.alg = jwa.HS256
	}
	if o.key == nil {
		o.key = secret
	}
	b := jwt.NewBuilder().
		Issuer(o.issuer).
		Audience([]string{"eushop"}).
		Subject("buyer-42").
		IssuedAt(now.Add(-time.Minute)).
		NotBefore(o.nbf).
		Expiration(o.exp)
	for k, v := range o.claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(o.alg, o.key))
	require.NoError(t, err)
	return string(signed)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name string
		opts tokenOpts
		ok   bool
	}{
		{name: "valid", ok: true},
		{name: "issuer mismatch", opts: tokenOpts{issuer: "other"}},
		{name: "expired", opts: tokenOpts{exp: now.Add(-time.Minute)}},
		{name: "not yet valid", opts: tokenOpts{nbf: now.Add(5 * time.Minute)}},
		{name: "wrong key", opts: tokenOpts{key: []byte("guess")}},
		{name: "algorithm mismatch", opts: tokenOpts{alg: jwa.HS384}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := verifier().Verify(sign(t, tc.opts))
			if !tc.ok {
				require.ErrorIs(t, err, auth.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "buyer-42", p.Subject)
		})
	}

	_, err := verifier().Verify("not-a-token")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = auth.Verifier{}.Verify(sign(t, tokenOpts{}))
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyExtractsProfileAndRoles(t *testing.T) {
	p, err := verifier().Verify(sign(t, tokenOpts{claims: map[string]any{
		auth.ClaimRoles:           []string{"Admin", "buyer"},
		auth.ClaimBuyerType:       "legal",
		auth.ClaimLegalCountry:    "ee",
		auth.ClaimDeliveryCountry: "fi",
		auth.ClaimVATNumber:       "EE100",
	}}))
	require.NoError(t, err)
	require.True(t, p.HasRole("admin"))
	require.False(t, p.HasRole("staff"))
	require.True(t, p.Profile.Authenticated)
	require.Equal(t, vat.Legal, p.Profile.Buyer)
	require.Equal(t, "EE", p.Profile.LegalCountry)
	require.Equal(t, "FI", p.Profile.DeliveryCountry)
	require.Equal(t, "EE100", p.Profile.VATNumber)
}

func TestMiddleware(t *testing.T) {
	m := auth.Middleware{Verifier: verifier()}
	var seen vat.Profile
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = vat.ProfileFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	admin := m.RequireRole("admin")(next)
	open := m.Authenticate(next)

	do := func(h http.Handler, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	buyer := sign(t, tokenOpts{claims: map[string]any{auth.ClaimBuyerType: "individual", auth.ClaimDeliveryCountry: "de"}})
	adminToken := sign(t, tokenOpts{claims: map[string]any{auth.ClaimRoles: "admin"}})

	rr := do(admin, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, `Bearer realm="eushop"`, rr.Header().Get("WWW-Authenticate"))
	require.Equal(t, http.StatusForbidden, do(admin, buyer).Code)
	require.Equal(t, http.StatusNoContent, do(admin, adminToken).Code)
	require.Equal(t, http.StatusNoContent, do(open, adminToken).Code)
	require.Equal(t, http.StatusNoContent, do(m.Authenticate(admin), adminToken).Code)

	require.Equal(t, http.StatusNoContent, do(open, buyer).Code)
	require.Equal(t, "DE", seen.DeliveryCountry)
	require.Equal(t, vat.Individual, seen.Buyer)

	seen = vat.Profile{}
	require.Equal(t, http.StatusNoContent, do(open, "").Code)
	require.False(t, seen.Authenticated)

	rr = do(open, "garbage")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	require.Contains(t, rr.Body.String(), "UNAUTHORIZED")
}
