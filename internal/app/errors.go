package app

import (
	"errors"
	"fmt"
)

var (
	ErrCourseNotFound        = errors.New("course not found")
	ErrEnrollmentRequired    = errors.New("enrollment required")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrAmountMismatch        = errors.New("payment amount does not match intent")
	ErrMalformedNotification = errors.New("malformed payment notification")
	ErrInvalidProgress       = errors.New("invalid progress report")
	ErrInvalidCourse         = errors.New("invalid course snapshot")
	ErrProcessorUnavailable  = errors.New("payment processor unavailable")
	ErrRateLimited           = errors.New("too many checkout attempts")
	ErrUnknownContentKind    = errors.New("unknown content kind")
)

// AmountMismatchError describes a completion notification whose amount or currency
// differs from what the intent recorded at checkout.
type AmountMismatchError struct {
	IntentID              string
	ExternalTransactionID string
	ExpectedAmount        int64
	ActualAmount          int64
	ExpectedCurrency      string
	ActualCurrency        string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment amount mismatch for %s: expected %d %s, got %d %s",
		e.ExternalTransactionID, e.ExpectedAmount, e.ExpectedCurrency, e.ActualAmount, e.ActualCurrency)
}

func (e *AmountMismatchError) Unwrap() error {
	return ErrAmountMismatch
}

// RateLimitError carries how long the caller should wait before retrying.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many checkout attempts; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
