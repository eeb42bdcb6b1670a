// Package api exposes the lightpad HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/billing"
	"github.com/jacobjmc/lightpad/internal/chat"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/notes"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
	"github.com/jacobjmc/lightpad/internal/usage"
)

// maxBodyBytes caps JSON request bodies; notes are the largest payload.
const maxBodyBytes = notes.MaxContentBytes + 64<<10

// maxWebhookBytes matches Stripe's documented payload ceiling.
const maxWebhookBytes = 65536

// Handler serves every /api route.
type Handler struct {
	Notes   *notes.Service
	Chat    *chat.Service
	Usage   *usage.Limiter
	Billing *billing.Service

	Auth *auth.Middleware
	// Users is the per-user burst limiter; nil disables it.
	Users *ratelimit.UserLimiter
}

// RegisterRoutes registers all routes on mux. Everything except the Stripe
// webhook and the health check requires a session.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /api/webhook", h.StripeWebhook)

	protected := map[string]http.HandlerFunc{
		"POST /api/chat":       h.PostChat,
		"DELETE /api/chat":     h.DeleteChat,
		"PUT /api/chat":        h.PutChat,
		"POST /api/completion": h.PostCompletion,
		"GET /api/messages":    h.GetMessages,
		"GET /api/notes":       h.ListNotes,
		"GET /api/notes/{id}":  h.GetNote,
		"POST /api/notes":      h.CreateNote,
		"PUT /api/notes":       h.UpdateNote,
		"DELETE /api/notes":    h.DeleteNote,
		"GET /api/usage":       h.GetUsage,
		"GET /api/stripe":      h.GetStripe,
	}
	for pattern, fn := range protected {
		mux.Handle(pattern, h.protect(fn))
	}
}

func (h *Handler) protect(next http.Handler) http.Handler {
	if h.Users != nil {
		next = ratelimit.Middleware(h.Users, h.userID, h.isPaid)(next)
	}
	return h.Auth.RequireAuth(next)
}

func (h *Handler) userID(r *http.Request) string {
	return auth.GetUserID(r.Context())
}

func (h *Handler) isPaid(r *http.Request) bool {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return false
	}
	paid, err := h.Usage.CheckSubscription(r.Context(), user)
	if err != nil {
		obs.From(r.Context()).Warn("subscription_check_failed", "error", err)
		return false
	}
	return paid
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps err to its status and client message. Internal errors are
// logged and reported generically.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		exceeded.Result.SetHeaders(w.Header())
	}

	status := errs.Status(err)
	log := obs.From(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request_failed", "error", err)
	} else {
		log.Info("request_rejected", "code", string(errs.CodeOf(err)), "error", err)
	}
	writeError(w, status, errs.MessageOf(err))
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.InvalidArgument, "Invalid input")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.New(errs.InvalidArgument, "Request body too large")
		}
		return errs.Wrap(errs.InvalidArgument, "Invalid JSON", err)
	}
	return nil
}

// currentUser returns the session user. RequireAuth runs in front of every
// caller, so a missing user is a wiring bug reported as 401.
func currentUser(r *http.Request) (auth.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return auth.User{}, errs.New(errs.Unauthenticated, "Unauthorized")
	}
	return user, nil
}
