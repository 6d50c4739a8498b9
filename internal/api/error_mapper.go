package api

import (
	"errors"
	"net/http"

	"orderwatch/internal/orders"
)

// ErrorCode represents unified API error codes
type ErrorCode string

const (
	ErrorCodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	ErrorCodeOrderNotFound       ErrorCode = "ORDER_NOT_FOUND"
	ErrorCodeNoTransition        ErrorCode = "NO_TRANSITION"
	ErrorCodeMutationPending     ErrorCode = "MUTATION_PENDING"
	ErrorCodeUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"
	ErrorCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodeSessionClosed       ErrorCode = "SESSION_CLOSED"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// MapErrorToHTTP maps errors to HTTP status codes and error responses
func MapErrorToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusOK, ErrorResponse{}
	}

	var validationErr *orders.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, ErrorResponse{
			Code:    string(ErrorCodeInvalidArgument),
			Message: "invalid order request",
			Fields:  validationErr.Fields,
		}
	}

	if errors.Is(err, orders.ErrOrderNotFound) {
		return http.StatusNotFound, ErrorResponse{
			Code:    string(ErrorCodeOrderNotFound),
			Message: "order not found",
		}
	}

	if errors.Is(err, orders.ErrNoTransition) {
		return http.StatusConflict, ErrorResponse{
			Code:    string(ErrorCodeNoTransition),
			Message: err.Error(),
		}
	}

	if errors.Is(err, orders.ErrMutationPending) {
		return http.StatusConflict, ErrorResponse{
			Code:    string(ErrorCodeMutationPending),
			Message: "a status change for this order is already in flight",
		}
	}

	var rejection *orders.ServerRejection
	if errors.As(err, &rejection) {
		status := http.StatusBadGateway
		if rejection.StatusCode >= 400 && rejection.StatusCode < 500 {
			status = rejection.StatusCode
		}
		return status, ErrorResponse{
			Code:    string(ErrorCodeUpstreamRejected),
			Message: rejection.Message,
		}
	}

	if errors.Is(err, orders.ErrTransport) {
		return http.StatusServiceUnavailable, ErrorResponse{
			Code:    string(ErrorCodeUpstreamUnavailable),
			Message: "order service unavailable",
		}
	}

	if errors.Is(err, orders.ErrSessionClosed) {
		return http.StatusServiceUnavailable, ErrorResponse{
			Code:    string(ErrorCodeSessionClosed),
			Message: "shutting down",
		}
	}

	// Default to internal error
	return http.StatusInternalServerError, ErrorResponse{
		Code:    string(ErrorCodeInternalError),
		Message: err.Error(),
	}
}
