package quickbooks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AuthError covers 401/403 responses. Not retryable: the credential itself
// is bad, so retries would burn the ceiling for nothing.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("quickbooks auth error %d: %s", e.StatusCode, e.Body)
}

// RateLimitError covers 429 responses. Retryable after backoff.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string {
	return "quickbooks rate limited: " + e.Body
}

// NotFoundError covers a missing counterparty in the target system (e.g.
// writing an invoice whose customer does not exist there). Retryable, but
// usually needs a data fix rather than patience.
type NotFoundError struct {
	Body string
}

func (e *NotFoundError) Error() string {
	return "quickbooks object not found: " + e.Body
}

// RequestError covers a malformed request (other 4xx). Not retryable: the
// payload will not get better on its own.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("quickbooks rejected request %d: %s", e.StatusCode, e.Body)
}

// TransientError covers timeouts, connection failures and 5xx responses.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return "quickbooks transient error: " + e.Cause.Error()
}

func (e *TransientError) Unwrap() error { return e.Cause }

// ErrorClass is the executor-facing classification of a failed write.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
	ClassRateLimit
	ClassMissingCounterparty
)

// Classify maps a WriteEntity error onto the retry policy.
func Classify(err error) ErrorClass {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return ClassPermanent
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return ClassPermanent
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return ClassRateLimit
	}
	var nfErr *NotFoundError
	if errors.As(err, &nfErr) {
		return ClassMissingCounterparty
	}
	return ClassTransient
}

func classifyStatus(statusCode int, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 401 || statusCode == 403:
		return &AuthError{StatusCode: statusCode, Body: trimmed}
	case statusCode == 429:
		return &RateLimitError{Body: trimmed}
	case statusCode == 404 || isMissingCounterparty(trimmed):
		return &NotFoundError{Body: trimmed}
	case statusCode >= 500:
		return &TransientError{Cause: fmt.Errorf("status %d: %s", statusCode, trimmed)}
	default:
		return &RequestError{StatusCode: statusCode, Body: trimmed}
	}
}

// QuickBooks reports a missing referenced object as a 400 with a specific
// fault code, not a 404.
func isMissingCounterparty(body string) bool {
	return strings.Contains(body, "Object Not Found") || strings.Contains(body, "\"code\":\"610\"")
}

func parseInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
