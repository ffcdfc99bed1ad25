package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the failure classes the pipeline distinguishes
type ErrorType string

const (
	ErrorTypeTransport ErrorType = "transport"
	ErrorTypeDecode    ErrorType = "decode"
	ErrorTypeArchive   ErrorType = "archive"
	ErrorTypeStorage   ErrorType = "storage"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a pipeline error with type information
type Error struct {
	Type ErrorType
	// Op names the operation that failed, e.g. "fetch page" or "extract manifest"
	Op string
	// ID is the item id the error belongs to, empty for run-level errors
	ID string
	// Code is the HTTP status for transport errors, 0 otherwise
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id %s)", e.ID)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport creates a transport error. code is the HTTP status, or 0 for network failures.
func Transport(op string, code int, err error) *Error {
	return &Error{Type: ErrorTypeTransport, Op: op, Code: code, Err: err}
}

// Decode creates a decode error
func Decode(op string, err error) *Error {
	return &Error{Type: ErrorTypeDecode, Op: op, Err: err}
}

// Archive creates an archive error for the given item
func Archive(op, id string, err error) *Error {
	return &Error{Type: ErrorTypeArchive, Op: op, ID: id, Err: err}
}

// Storage creates a storage error
func Storage(op string, err error) *Error {
	return &Error{Type: ErrorTypeStorage, Op: op, Err: err}
}

// WithID returns a copy of e tagged with the item id
func (e *Error) WithID(id string) *Error {
	cp := *e
	cp.ID = id
	return &cp
}

// TypeOf returns the ErrorType of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error is worth another attempt.
// Only transport errors qualify, and only when the status can change.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Type != ErrorTypeTransport {
		return false
	}
	return IsRetryableStatusCode(e.Code)
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case http.StatusTooManyRequests:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	default:
		return statusCode >= 500
	}
}
