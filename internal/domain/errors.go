package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadParam signals a malformed reserved query parameter.
	ErrBadParam = errors.New("bad parameter")
	// ErrValidation signals a request body that fails the model schema.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound signals a missing item or collection.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden signals a privacy violation on a requested field.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict signals a duplicate resource.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized signals an authentication failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrIndexNotFound signals a missing Elasticsearch index.
	ErrIndexNotFound = errors.New("index not found")
)

// BadParamError wraps ErrBadParam with the offending parameter name.
type BadParamError struct {
	Name   string
	Reason string
}

func (e *BadParamError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %q", ErrBadParam.Error(), e.Name)
	}
	return fmt.Sprintf("%s: %q: %s", ErrBadParam.Error(), e.Name, e.Reason)
}

func (e *BadParamError) Unwrap() error { return ErrBadParam }

// NewBadParam creates a bad parameter error.
func NewBadParam(name, reason string) error {
	return &BadParamError{Name: name, Reason: reason}
}

// ValidationError wraps ErrValidation with per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for name, msg := range e.Fields {
		parts = append(parts, name+": "+msg)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BulkItemError is one failed item of an Elasticsearch bulk response.
type BulkItemError struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// BulkError signals a bulk response carrying items with errors.
// Partial success is still reported as one BulkError; the caller
// retries at the document level.
type BulkError struct {
	Items []BulkItemError
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk request failed for %d item(s)", len(e.Items))
}

// TransportError preserves the HTTP status of an Elasticsearch failure.
// A transport failure with no status is reported as 400.
type TransportError struct {
	Status int
	Reason string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("elasticsearch error %d: %s", e.Status, e.Reason)
}

// NewTransport creates a transport error, defaulting the status to 400.
func NewTransport(status int, reason string) error {
	if status <= 0 {
		status = 400
	}
	return &TransportError{Status: status, Reason: reason}
}
