package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier checks ID tokens from an OpenID Connect issuer using the
// issuer's discovered signing keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds an audience-checking verifier.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (User, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return User{}, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}
	return claims.user()
}

type oidcClaims struct {
	Sub           string    `json:"sub"`
	Email         string    `json:"email"`
	EmailVerified claimBool `json:"email_verified"`
}

// user maps the claims to a User. An unverified email is dropped so it can
// never match an allow list or bypass entry.
func (c oidcClaims) user() (User, error) {
	if c.Sub == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	u := User{ID: c.Sub}
	if c.EmailVerified {
		u.Email = normalizeEmail(c.Email)
	}
	return u, nil
}

// claimBool accepts true, false, "true" and "false". Some issuers send
// email_verified as a string.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`, "null", `""`:
		*b = false
	default:
		return fmt.Errorf("invalid boolean claim %s", data)
	}
	return nil
}
