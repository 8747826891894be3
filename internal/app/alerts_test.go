package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
)

func TestBrokerAlerter_PublishesToAlertsExchange(t *testing.T) {
	publisher := &recordingPublisher{}
	alerter := NewBrokerAlerter(publisher, "", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	alerter.Alert(ctx, domain.PaymentAlert{Kind: AlertAmountMismatch, ExternalTransactionID: "tx_1", Detail: "expected 4999"})

	if len(publisher.published) != 1 {
		t.Fatalf("expected one alert published, got %d", len(publisher.published))
	}
	msg := publisher.published[0]
	if msg.exchange != "ops.alerts" || msg.routingKey != "payment.amount_mismatch" {
		t.Fatalf("unexpected destination %s/%s", msg.exchange, msg.routingKey)
	}
	var alert domain.PaymentAlert
	if err := json.Unmarshal(msg.body, &alert); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if alert.RaisedAt.IsZero() || alert.ExternalTransactionID != "tx_1" {
		t.Fatalf("unexpected alert payload: %+v", alert)
	}
}

func TestBrokerAlerter_WithoutPublisherOnlyLogs(t *testing.T) {
	alerter := NewBrokerAlerter(nil, "ops.alerts", discardLogger())
	alerter.Alert(context.Background(), domain.PaymentAlert{Kind: AlertInvalidSignature})
}
