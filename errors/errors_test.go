package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorAdmission, "admission"},
		{ErrorInput, "input"},
		{ErrorDownstream, "downstream"},
		{ErrorInfrastructure, "infrastructure"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"circuit open", ErrCircuitOpen, true},
		{"call timeout", ErrCallTimeout, true},
		{"rate limited", ErrRateLimited, true},
		{"queue unavailable", ErrQueueUnavailable, true},
		{"cache unavailable", ErrCacheUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"unsupported pair", ErrUnsupportedPair, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified downstream", &ClassifiedError{Class: ErrorDownstream, Err: fmt.Errorf("test")}, true},
		{"classified input", &ClassifiedError{Class: ErrorInput, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsRetryable(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"rate limited", ErrRateLimited, ErrorAdmission},
		{"batch too large", ErrBatchTooLarge, ErrorAdmission},
		{"empty batch", ErrEmptyBatch, ErrorAdmission},
		{"empty content", ErrEmptyContent, ErrorInput},
		{"unknown format", ErrUnknownFormat, ErrorInput},
		{"unsupported pair", ErrUnsupportedPair, ErrorInput},
		{"circuit open", ErrCircuitOpen, ErrorDownstream},
		{"call timeout", ErrCallTimeout, ErrorDownstream},
		{"backend failure", ErrBackendFailure, ErrorDownstream},
		{"queue unavailable", ErrQueueUnavailable, ErrorInfrastructure},
		{"cache unavailable", ErrCacheUnavailable, ErrorInfrastructure},
		{"unknown error", fmt.Errorf("something else"), ErrorInfrastructure},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, "Cache", "Get", "redis lookup")

	expected := "Cache.Get: redis lookup failed: boom"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base error")
	}

	if Wrap(nil, "Cache", "Get", "redis lookup") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapDownstream_PreservesSentinel(t *testing.T) {
	err := WrapDownstream(ErrCircuitOpen, "RemoteClient", "Translate", "invoke backend")

	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("should unwrap to ErrCircuitOpen")
	}
	if Classify(err) != ErrorDownstream {
		t.Errorf("expected downstream class, got %v", Classify(err))
	}
	if !strings.Contains(err.Error(), "RemoteClient.Translate") {
		t.Errorf("expected component context in message, got %q", err.Error())
	}
}

func TestWrapAdmission_RetryAfter(t *testing.T) {
	err := WrapAdmission(ErrRateLimited, "Gate", "Admit", 30*time.Second)

	if Classify(err) != ErrorAdmission {
		t.Errorf("expected admission class, got %v", Classify(err))
	}
	if got := RetryAfterOf(err); got != 30*time.Second {
		t.Errorf("expected retry-after 30s, got %v", got)
	}
	if CodeOf(err) != CodeRateLimited {
		t.Errorf("expected code %s, got %s", CodeRateLimited, CodeOf(err))
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"batch too large", ErrBatchTooLarge, CodeBatchTooLarge},
		{"queue unavailable", ErrQueueUnavailable, CodeQueueUnavailable},
		{"circuit open", ErrCircuitOpen, CodeRemoteUnavailable},
		{"unknown format", ErrUnknownFormat, CodeSchemaError},
		{"unsupported pair", ErrUnsupportedPair, CodeFormatCompatibility},
		{"backend failure", ErrBackendFailure, CodeTranslationFailed},
		{"unclassified", errors.New("mystery"), CodeInternal},
		{
			"explicit code wins",
			&ClassifiedError{Code: CodeSchemaError, Err: errors.New("bad shape")},
			CodeSchemaError,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CodeOf(test.err); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestWithCorrelation(t *testing.T) {
	base := &ClassifiedError{Class: ErrorDownstream, Code: CodeTranslationFailed, Err: errors.New("boom")}
	tagged := base.WithCorrelation("req-123")

	if CorrelationOf(tagged) != "req-123" {
		t.Errorf("expected req-123, got %q", CorrelationOf(tagged))
	}
	if CorrelationOf(base) != "" {
		t.Error("original error must not be mutated")
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	if rc.ShouldRetry(nil, 0) {
		t.Error("nil error should not retry")
	}
	if rc.ShouldRetry(ErrCircuitOpen, rc.MaxRetries) {
		t.Error("should not retry at max attempts")
	}
	if !rc.ShouldRetry(ErrCircuitOpen, 0) {
		t.Error("circuit open should retry")
	}
	if rc.ShouldRetry(ErrUnsupportedPair, 0) {
		t.Error("input errors should not retry")
	}
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}
	cfg := rc.ToRetryConfig()

	if cfg.MaxAttempts != 4 {
		t.Errorf("expected 4 total attempts, got %d", cfg.MaxAttempts)
	}
	if !cfg.AddJitter {
		t.Error("jitter should be enabled")
	}
}
