// Package errors provides standardized error handling for the translation
// orchestration core. It includes error classification into the four classes
// the pipeline distinguishes (admission, input, downstream, infrastructure),
// stable error codes for user-visible failures, and helper functions for
// consistent error wrapping across components.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rulebridge/rulebridge/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorAdmission represents rate-limit rejections; the caller retries
	// after the advertised retry-after duration
	ErrorAdmission ErrorClass = iota
	// ErrorInput represents errors due to invalid request content or shape;
	// not retryable without the caller changing the input
	ErrorInput
	// ErrorDownstream represents failures of a downstream dependency
	// (breaker open, remote timeout); retryable after backoff
	ErrorDownstream
	// ErrorInfrastructure represents failures of queue/cache/counter
	// infrastructure; components degrade per their own policy
	ErrorInfrastructure
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorAdmission:
		return "admission"
	case ErrorInput:
		return "input"
	case ErrorDownstream:
		return "downstream"
	case ErrorInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Admission errors
	ErrRateLimited   = errors.New("rate limited")
	ErrBatchTooLarge = errors.New("batch exceeds configured maximum size")
	ErrEmptyBatch    = errors.New("batch contains no items")

	// Input errors
	ErrEmptyContent      = errors.New("empty detection content")
	ErrContentTooLarge   = errors.New("detection content exceeds size limit")
	ErrUnknownFormat     = errors.New("unknown detection format")
	ErrUnsupportedPair   = errors.New("unsupported translation pair")
	ErrMalformedEnvelope = errors.New("malformed queue message envelope")

	// Downstream errors
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrCallTimeout     = errors.New("downstream call timeout")
	ErrBackendFailure  = errors.New("downstream backend failure")
	ErrBackendResponse = errors.New("malformed downstream response")

	// Infrastructure errors
	ErrQueueUnavailable   = errors.New("dispatch queue unavailable")
	ErrCounterUnavailable = errors.New("rate counter backend unavailable")
	ErrCacheUnavailable   = errors.New("cache backend unavailable")
	ErrNotConnected       = errors.New("not connected")
	ErrShuttingDown       = errors.New("shutting down")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrBatchAborted       = errors.New("batch aborted")
)

// Stable error codes surfaced to callers for support traceability.
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeBatchTooLarge       = "BATCH_TOO_LARGE"
	CodeEmptyBatch          = "EMPTY_BATCH"
	CodeSchemaError         = "SCHEMA_VALIDATION_ERROR"
	CodeFormatCompatibility = "FORMAT_COMPATIBILITY_ERROR"
	CodeSyntaxError         = "SYNTAX_ERROR"
	CodeRemoteUnavailable   = "REMOTE_VALIDATION_UNAVAILABLE"
	CodeTranslationFailed   = "TRANSLATION_FAILED"
	CodeQueueUnavailable    = "QUEUE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// ClassifiedError wraps an error with its classification, a stable code,
// and the correlation id of the request it occurred in.
type ClassifiedError struct {
	Class         ErrorClass
	Code          string
	Err           error
	Message       string
	Component     string
	Operation     string
	CorrelationID string
	RetryAfter    time.Duration // set for admission errors only
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// WithCorrelation returns a copy of the error carrying the given request id.
func (ce *ClassifiedError) WithCorrelation(id string) *ClassifiedError {
	dup := *ce
	dup.CorrelationID = id
	return &dup
}

// CodeOf extracts the stable error code from an error chain, falling back
// to CodeInternal for unclassified errors.
func CodeOf(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrBatchTooLarge):
		return CodeBatchTooLarge
	case errors.Is(err, ErrEmptyBatch):
		return CodeEmptyBatch
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrContentTooLarge),
		errors.Is(err, ErrUnknownFormat), errors.Is(err, ErrMalformedEnvelope):
		return CodeSchemaError
	case errors.Is(err, ErrUnsupportedPair):
		return CodeFormatCompatibility
	case errors.Is(err, ErrBackendFailure), errors.Is(err, ErrBackendResponse):
		return CodeTranslationFailed
	case errors.Is(err, ErrQueueUnavailable):
		return CodeQueueUnavailable
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrCallTimeout):
		return CodeRemoteUnavailable
	default:
		return CodeInternal
	}
}

// CorrelationOf extracts the correlation id from an error chain, if any.
func CorrelationOf(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.CorrelationID
	}
	return ""
}

// IsRetryable checks if an error may succeed on retry (downstream and
// infrastructure outages, admission rejections after their retry-after).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class != ErrorInput
	}

	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrCallTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, ErrCacheUnavailable) ||
		errors.Is(err, ErrCounterUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Common transient patterns from drivers that don't wrap our sentinels
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInput checks if an error is due to invalid request input
func IsInput(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInput
	}

	return errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrContentTooLarge) ||
		errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrUnsupportedPair) ||
		errors.Is(err, ErrMalformedEnvelope)
}

// IsAdmission checks if an error is a rate-limit or batch-size rejection
func IsAdmission(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorAdmission
	}

	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrEmptyBatch)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case IsAdmission(err):
		return ErrorAdmission
	case IsInput(err):
		return ErrorInput
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrCallTimeout),
		errors.Is(err, ErrBackendFailure),
		errors.Is(err, ErrBackendResponse),
		errors.Is(err, context.DeadlineExceeded):
		return ErrorDownstream
	default:
		return ErrorInfrastructure
	}
}

// newClassified creates a new classified error
// This is an internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, code string, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Code:      code,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapAdmission wraps an error as an admission rejection with a retry-after hint
func WrapAdmission(err error, component, method string, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, "admit request")
	ce := newClassified(ErrorAdmission, CodeOf(err), wrapped, component, method, wrapped.Error())
	ce.RetryAfter = retryAfter
	return ce
}

// WrapInput wraps an error as invalid input with context
func WrapInput(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorInput, CodeOf(err), wrapped, component, method, wrapped.Error())
}

// WrapDownstream wraps an error as a downstream dependency failure
func WrapDownstream(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorDownstream, CodeOf(err), wrapped, component, method, wrapped.Error())
}

// WrapInfra wraps an error as an infrastructure failure
func WrapInfra(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorInfrastructure, CodeOf(err), wrapped, component, method, wrapped.Error())
}

// RetryAfterOf extracts the retry-after hint from an admission error, or 0.
func RetryAfterOf(err error) time.Duration {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsRetryable(err)
}

// ToRetryConfig converts the errors package RetryConfig to the retry
// framework's Config type. The conversion adds 1 to MaxRetries (converting
// "additional attempts" to "total attempts") and enables jitter.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
