// Package identity verifies bearer tokens against the configured OIDC
// issuer and resolves the caller's subject, email, and admin standing.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"fivecut/internal/config"
	"fivecut/internal/services"
)

// Identity describes an authenticated caller.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Admin   bool
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCVerifier validates ID tokens via OIDC discovery.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	admins   map[string]struct{}
}

// NewOIDCVerifier performs discovery against the configured issuer. The
// audience check is relaxed so tokens minted for companion clients of the
// same issuer are accepted.
func NewOIDCVerifier(ctx context.Context, cfg *config.Config) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Auth.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Auth.IssuerURL, err)
	}

	admins := make(map[string]struct{}, len(cfg.Auth.AdminEmails))
	for _, email := range cfg.Auth.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		admins:   admins,
	}, nil
}

// Verify validates the token signature, expiry, and issuer, and extracts the
// caller's claims.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, services.Wrap(services.ErrUnauthorized, "", "verify", "missing bearer token", nil)
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, services.Wrap(services.ErrUnauthorized, "", "verify", "invalid token", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, services.Wrap(services.ErrUnauthorized, "", "verify", "decode claims", err)
	}

	email := strings.ToLower(claims.Email)
	_, admin := v.admins[email]
	return &Identity{
		Subject: token.Subject,
		Email:   email,
		Name:    claims.Name,
		Admin:   admin,
	}, nil
}
