package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/annievinnie/E-learning-sub001/internal/app"
)

const (
	maxWebhookBodyBytes    = 1 << 20
	paymentSignatureHeader = "X-Payment-Signature"
)

// PaymentWebhookHandler receives processor notifications. The raw body is passed to the
// reconciler untouched because the signature covers the exact bytes sent.
func (h *Handlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=unreadable_body err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body", codeInvalidRequest)
		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), app.Notification{
		Payload:   body,
		Signature: r.Header.Get(paymentSignatureHeader),
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidSignature):
			h.writeError(w, http.StatusUnauthorized, "invalid signature", "invalid_signature")
		case errors.Is(err, app.ErrAmountMismatch):
			h.writeError(w, http.StatusConflict, "amount mismatch", "amount_mismatch")
		case errors.Is(err, app.ErrMalformedNotification):
			h.writeError(w, http.StatusBadRequest, "malformed notification", codeInvalidRequest)
		default:
			log.Printf("level=error component=api endpoint=payment_webhook outcome=retry err=%v", err)
			h.writeError(w, http.StatusInternalServerError, retryLaterMessage, codeUnavailable)
		}
		return
	}

	log.Printf("level=info component=api endpoint=payment_webhook outcome=%s", outcome)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}
