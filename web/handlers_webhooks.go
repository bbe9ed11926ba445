package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/promptforge/tokengate/app"
)

// handleWebhook receives gateway webhook deliveries. The signature is
// computed over the exact raw body bytes, so the body is read before any
// parsing happens.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Razorpay-Signature")

	ack, err := h.webhooks.Handle(r.Context(), body, sig)

	if h.metrics != nil && ack.Outcome != "" {
		event := ack.Event
		if event == "" {
			event = "unknown"
		}
		h.metrics.WebhookEvents.WithLabelValues(event, ack.Outcome).Inc()
		if ack.TokensCredited > 0 {
			h.metrics.CreditsTotal.WithLabelValues(ack.Event).Inc()
			h.metrics.CreditedTokens.WithLabelValues(ack.Event).Add(float64(ack.TokensCredited))
		}
		if ack.Outcome == app.OutcomeDuplicate {
			h.metrics.DuplicateCredits.Inc()
		}
	}

	if errors.Is(err, app.ErrInvalidSignature) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err != nil {
		// Retryable: the gateway redelivers, and the ledger's externalRef
		// check makes redelivery safe.
		h.logger.Error().Err(err).Str("event", ack.Event).Msg("webhook processing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
