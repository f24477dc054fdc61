package handlers

import (
	"io"
	"net/http"

	"custody/internal/apperr"
	"custody/internal/paystack"
)

// PaystackWebhook hands the raw body to the payment service, since the
// signature covers the exact bytes the gateway sent. An unknown reference
// answers 404 so the gateway retries once the deposit row exists.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidRequest, "unable to read body")
		return
	}
	result, err := h.payments.HandleWebhook(r.Context(), body, r.Header.Get(paystack.SignatureHeader))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    true,
		"event":     result.Event,
		"reference": result.Reference,
		"outcome":   result.Outcome,
	})
}
