package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/pkg/rabbitmq"
)

// Alert kinds raised on the operator alerting path.
const (
	AlertInvalidSignature   = "invalid_signature"
	AlertAmountMismatch     = "amount_mismatch"
	AlertLateCompletion     = "late_completion"
	AlertDuplicatePayment   = "duplicate_payment"
	AlertConcurrentComplete = "concurrent_completion"
	AlertReferenceMismatch  = "reference_mismatch"
)

// Alerter surfaces authenticity and consistency violations to operators.
type Alerter interface {
	Alert(ctx context.Context, alert domain.PaymentAlert)
}

// BrokerAlerter logs every alert at error level and publishes it to the alerts exchange.
type BrokerAlerter struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
}

func NewBrokerAlerter(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *BrokerAlerter {
	if strings.TrimSpace(exchange) == "" {
		exchange = "ops.alerts"
	}
	return &BrokerAlerter{publisher: publisher, exchange: exchange, logger: logger}
}

func (a *BrokerAlerter) Alert(ctx context.Context, alert domain.PaymentAlert) {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = time.Now().UTC()
	}
	a.logger.Error("payment alert",
		"kind", alert.Kind,
		"external_transaction_id", alert.ExternalTransactionID,
		"learner_id", alert.LearnerID,
		"detail", alert.Detail,
	)
	if a.publisher == nil {
		return
	}

	// The alert must still go out if the inbound request was cancelled.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.publisher.Publish(publishCtx, a.exchange, "payment."+alert.Kind, alert); err != nil {
		a.logger.Error("failed to publish payment alert", "kind", alert.Kind, "error", err)
	}
}
