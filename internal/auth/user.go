// Package auth verifies the session tokens issued by the external identity
// provider and exposes the authenticated user to handlers.
package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// User is the authenticated caller.
type User struct {
	ID    string
	Email string
}

// Verifier turns a raw session token into a User.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (User, error)
}

type contextKey string

const userKey contextKey = "user"

// WithUser stores the user in context.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}

// GetUserID returns the user id from context, or "" when unauthenticated.
func GetUserID(ctx context.Context) string {
	u, _ := UserFromContext(ctx)
	return u.ID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
