package auth

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// HMACVerifier checks HS256 session tokens signed with a shared secret.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHMACVerifier creates a verifier. issuer and audience are optional.
func NewHMACVerifier(secret, issuer, audience string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (User, error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return User{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return User{}, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return User{ID: claims.Subject, Email: normalizeEmail(claims.Email)}, nil
}

// Sign issues a token the verifier accepts. Used by tests and local tooling.
func (v *HMACVerifier) Sign(u User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
