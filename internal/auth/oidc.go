// Package auth implements C15 admin-path bearer-token verification: a
// minimal OIDC ID-token check, no session cookies or authorization-code
// flow. It gates only the admin routes (user creation, organization creation
// and the per-user agent listing, §4.15); every other HTTP route in §6 is
// unauthenticated at this layer.
package auth

import (
	"context"
	"net/http"
	"strings"

	oidc "github.com/coreos/go-oidc/v3/oidc"

	"memoria/internal/config"
	"memoria/internal/errs"
)

// Verifier checks admin bearer tokens against an OIDC issuer. A zero-value
// Verifier (Enabled == false) never enforces — matching the dev-mode
// contract of an empty config.OIDCConfig.IssuerURL.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	audience string
	Enabled  bool
}

// NewVerifier builds a Verifier from cfg. An empty IssuerURL disables
// enforcement (dev mode, per config.OIDCConfig's doc comment) and NewVerifier
// returns a disabled Verifier rather than an error.
func NewVerifier(ctx context.Context, cfg config.OIDCConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return &Verifier{}, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errs.New(errs.Fatal, "oidc provider discovery", err)
	}
	return &Verifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
		audience: cfg.Audience,
		Enabled:  true,
	}, nil
}

// Claims is the subset of ID-token claims the admin path cares about.
type Claims struct {
	Subject string
	Email   string `json:"email"`
}

// VerifyBearer extracts and verifies the `Authorization: Bearer <token>`
// header, returning the token's claims on success.
func (v *Verifier) VerifyBearer(ctx context.Context, r *http.Request) (Claims, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return Claims{}, errs.New(errs.MissingCredential, "missing bearer token", nil)
	}
	raw := strings.TrimPrefix(auth, prefix)
	idt, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Claims{}, errs.New(errs.MissingCredential, "bearer token verification", err)
	}
	var c Claims
	if err := idt.Claims(&c); err != nil {
		return Claims{}, errs.New(errs.InvalidInput, "decode id token claims", err)
	}
	c.Subject = idt.Subject
	return c, nil
}

// RequireAdmin wraps next so it only runs once the bearer token verifies. A
// disabled Verifier (dev mode) passes every request through unchecked.
func (v *Verifier) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if v == nil || !v.Enabled {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := v.VerifyBearer(r.Context(), r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
