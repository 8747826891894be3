/**
 * @description
 * This package provides a client for the external payment processor's checkout API.
 * It creates hosted checkout sessions and returns the processor's transaction id
 * and the URL the learner must be redirected to.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP client with JSON binding and timeouts.
 */
package paymentclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a client for the payment processor API.
type Client struct {
	http *resty.Client
}

// NewClient creates a new processor client authenticated with a bearer API key.
func NewClient(baseURL, apiKey string) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetAuthToken(strings.TrimSpace(apiKey)).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: httpClient}
}

// CheckoutRequest is the payload for creating a checkout session.
type CheckoutRequest struct {
	Amount          int64  `json:"amount"` // in cents
	Currency        string `json:"currency"`
	CourseID        string `json:"course_id"`
	LearnerID       string `json:"learner_id"`
	Reference       string `json:"reference"`
	SuccessRedirect string `json:"success_redirect"`
	CancelRedirect  string `json:"cancel_redirect"`
}

// CheckoutResponse is the processor's answer to a checkout request.
type CheckoutResponse struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
}

// ErrorResponse represents an error body returned by the processor.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment api error (%d)", e.StatusCode)
}

// ErrIncompleteResponse is returned when the processor answers 2xx without the fields we need.
var ErrIncompleteResponse = errors.New("payment api returned an incomplete checkout response")

// CreateCheckout opens a hosted checkout session for exactly req.Amount.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	var (
		out    CheckoutResponse
		apiErr ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Reference).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to call payment api: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}
	if strings.TrimSpace(out.TransactionID) == "" || strings.TrimSpace(out.RedirectURL) == "" {
		return nil, ErrIncompleteResponse
	}
	return &out, nil
}
