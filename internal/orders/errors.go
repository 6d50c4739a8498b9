package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrValidation      = errors.New("validation failed")
	ErrTransport       = errors.New("transport error")
	ErrServerRejected  = errors.New("rejected by server")
	ErrMutationPending = errors.New("status change already in flight")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNoTransition    = errors.New("no transition offered")
	ErrSessionClosed   = errors.New("session closed")
)

// FieldError names one invalid field of a request
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned when a request fails local validation.
// The request is never sent.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransportError wraps a network, timeout or decode failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ServerRejection is a well-formed request the backend refused
type ServerRejection struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("%s: rejected by server (status=%d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *ServerRejection) Is(target error) bool {
	return target == ErrServerRejected
}
