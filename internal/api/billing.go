package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/logutil"
	"github.com/jacobjmc/lightpad/internal/obs"
)

const webhookLogChars = 512

// UsageResponse is the body of GET /api/usage.
type UsageResponse struct {
	Count int  `json:"count"`
	Max   int  `json:"max"`
	IsPro bool `json:"isPro"`
}

// GetUsage handles GET /api/usage.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	count, err := h.Usage.GetAPILimitCount(r.Context(), user.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	isPro, err := h.Usage.CheckSubscription(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{Count: count, Max: h.Usage.MaxFreeCounts(), IsPro: isPro})
}

// GetStripe handles GET /api/stripe.
func (h *Handler) GetStripe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	url, err := h.Billing.ManageURL(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// StripeWebhook handles POST /api/webhook. Authenticity comes from the
// Stripe-Signature header, not a session.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, r, errs.New(errs.InvalidArgument, "Request body too large"))
			return
		}
		writeErr(w, r, err)
		return
	}
	if err := h.Billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		obs.From(r.Context()).Warn("stripe_webhook_rejected",
			"headers", logutil.FormatHeadersForLog(r.Header),
			"body", logutil.RedactBodyForLog(r.Header.Get("Content-Type"), payload, webhookLogChars),
		)
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
