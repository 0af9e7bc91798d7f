package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies the failures the handler can encounter
type ErrorType string

const (
	// ErrorTypeQuota marks API quota exhaustion; recoverable by waiting
	ErrorTypeQuota ErrorType = "quota"
	// ErrorTypeMissingPrereq marks a subject that cannot be processed yet
	// (e.g. no stored tweet to resolve its user id from)
	ErrorTypeMissingPrereq ErrorType = "missing_prerequisite"
	// ErrorTypePersistence marks a failed store write for a single item
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeTransport marks a network or non-quota API failure
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeParsing marks a malformed response
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeConfig marks a startup-class configuration failure
	ErrorTypeConfig  ErrorType = "config"
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error represents a classified handler error
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a classified error
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewWithCode creates a classified error carrying an HTTP status code
func NewWithCode(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsQuota reports whether err is a quota-exhaustion error
func IsQuota(err error) bool {
	return TypeOf(err) == ErrorTypeQuota
}

// IsMissingPrereq reports whether err marks an unprocessable subject
func IsMissingPrereq(err error) bool {
	return TypeOf(err) == ErrorTypeMissingPrereq
}

// IsRetryable checks if an error type should be retried.
// Only transport errors retry: persistence errors mark permanent store
// rejections, and quota errors go through the governor's timed wait,
// not the generic retry path.
func IsRetryable(errorType ErrorType) bool {
	return errorType == ErrorTypeTransport
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}
