package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
)

// RoutingKeyPaymentNotification is the key the webhook relay publishes processor events under.
const RoutingKeyPaymentNotification = "payment.notification"

const relayReconcileTimeout = 15 * time.Second

// PaymentEventConsumer feeds processor notifications relayed through the broker into the reconciler.
type PaymentEventConsumer struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewPaymentEventConsumer(reconciler *Reconciler, logger *slog.Logger) *PaymentEventConsumer {
	return &PaymentEventConsumer{reconciler: reconciler, logger: logger}
}

// HandleMessage returns false only when redelivery could succeed.
func (c *PaymentEventConsumer) HandleMessage(body []byte) bool {
	var relayed domain.RelayedPaymentNotification
	if err := json.Unmarshal(body, &relayed); err != nil {
		c.logger.Error("dropping undecodable relayed payment notification", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayReconcileTimeout)
	defer cancel()

	outcome, err := c.reconciler.Reconcile(ctx, Notification{
		Payload:   []byte(relayed.Payload),
		Signature: relayed.Signature,
	})
	switch {
	case err == nil:
		c.logger.Info("relayed payment notification reconciled", "outcome", outcome)
		return true
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrMalformedNotification):
		c.logger.Warn("dropping rejected relayed payment notification", "error", err)
		return true
	default:
		c.logger.Error("failed to reconcile relayed payment notification; requeueing", "error", err)
		return false
	}
}
