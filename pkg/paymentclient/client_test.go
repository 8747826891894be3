package paymentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateCheckout_SendsExactAmountAndParsesResponse(t *testing.T) {
	var received CheckoutRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "intent-1" {
			t.Errorf("expected idempotency key from reference, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_id":"txn_123","redirect_url":"https://pay.example/c/txn_123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "sk_test")
	resp, err := client.CreateCheckout(context.Background(), CheckoutRequest{
		Amount:          4999,
		Currency:        "USD",
		CourseID:        "course-1",
		LearnerID:       "user_1",
		Reference:       "intent-1",
		SuccessRedirect: "https://lms.example/success",
		CancelRedirect:  "https://lms.example/cancel",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.TransactionID != "txn_123" || resp.RedirectURL != "https://pay.example/c/txn_123" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if received.Amount != 4999 || received.Currency != "USD" || received.CancelRedirect == "" {
		t.Fatalf("unexpected request body: %+v", received)
	}
}

func TestCreateCheckout_MapsErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"invalid_amount","message":"amount too small"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk_test").CreateCheckout(context.Background(), CheckoutRequest{Amount: 1, Reference: "r"})
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ErrorResponse, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "invalid_amount" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestCreateCheckout_RejectsIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_id":"txn_1"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk_test").CreateCheckout(context.Background(), CheckoutRequest{Amount: 100, Reference: "r"})
	if !errors.Is(err, ErrIncompleteResponse) {
		t.Fatalf("expected ErrIncompleteResponse, got %v", err)
	}
}
