package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline and delivery failures.
type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "invalid_input"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeServiceDegraded     ErrorCode = "service_degraded"
	CodeDeliveryFailed      ErrorCode = "delivery_failed"
)

// PredictionError carries a classified failure through the serving path.
type PredictionError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *PredictionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PredictionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry at all. InvalidInput and
// ServiceDegraded are terminal for the triggering request.
func (e *PredictionError) Retryable() bool {
	return e.Code == CodeUpstreamUnavailable
}

// InvalidInputError marks a malformed event or feature set.
func InvalidInputError(msg string, err error) *PredictionError {
	return &PredictionError{Code: CodeInvalidInput, Message: msg, Err: err}
}

// UpstreamUnavailableError marks a failed or timed-out model call.
func UpstreamUnavailableError(msg string, err error) *PredictionError {
	return &PredictionError{Code: CodeUpstreamUnavailable, Message: msg, Err: err}
}

// ServiceDegradedError marks an admission refusal by the monitor.
func ServiceDegradedError(msg string) *PredictionError {
	return &PredictionError{Code: CodeServiceDegraded, Message: msg}
}

// DeliveryFailedError marks a per-subscriber send failure.
func DeliveryFailedError(subscriberID string, err error) *PredictionError {
	return &PredictionError{
		Code:    CodeDeliveryFailed,
		Message: "delivery to subscriber " + subscriberID + " failed",
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not classified.
func CodeOf(err error) ErrorCode {
	var pe *PredictionError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
