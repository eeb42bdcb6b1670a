package auth

import (
	"net/http"
	"strings"

	"github.com/jacobjmc/lightpad/internal/obs"
)

// SessionCookie is the cookie the identity provider's frontend SDK sets.
const SessionCookie = "__session"

// Middleware provides authentication middleware for HTTP handlers.
type Middleware struct {
	verifier Verifier
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(verifier Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid session with 401 before any
// downstream work happens.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			unauthorized(w)
			return
		}
		user, err := m.verifier.Verify(r.Context(), raw)
		if err != nil {
			obs.From(r.Context()).Info("auth_rejected", "pkg", "auth", "error", err.Error())
			unauthorized(w)
			return
		}

		ctx := WithUser(r.Context(), user)
		ctx = obs.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized"}`))
}
