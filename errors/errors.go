package errors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ValidationError ErrorType = "VALIDATION_ERROR"
	NotFoundError   ErrorType = "NOT_FOUND"
	AuthError       ErrorType = "AUTHENTICATION_ERROR"
	DatabaseError   ErrorType = "DATABASE_ERROR"
	ServerError     ErrorType = "SERVER_ERROR"
	ForbiddenError  ErrorType = "FORBIDDEN"

	// Sharing/presence errors. The first four originate on the device side
	// (sensor and permission handling), the last three on the network path.
	PermissionDeniedError       ErrorType = "PERMISSION_DENIED"
	PositionUnavailableError    ErrorType = "POSITION_UNAVAILABLE"
	TimeoutError                ErrorType = "TIMEOUT"
	UnsupportedError            ErrorType = "UNSUPPORTED"
	NetworkError                ErrorType = "NETWORK_ERROR"
	AuthenticationRequiredError ErrorType = "AUTHENTICATION_REQUIRED"
	SubscriptionUnavailable     ErrorType = "SUBSCRIPTION_UNAVAILABLE"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the HTTP status for the error, deriving one from the
// error type when it was not set explicitly.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return getHTTPStatus(e.Type)
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// Helper functions for common errors

func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Type:       AuthError,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func NewDatabaseError(err error) *AppError {
	return &AppError{
		Type:       DatabaseError,
		Message:    "Database operation failed",
		Detail:     "Please try again later",
		HTTPStatus: http.StatusInternalServerError,
		Raw:        err,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func Forbidden(message string, details string) *AppError {
	return &AppError{
		Type:       ForbiddenError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusForbidden,
	}
}

// PermissionDenied indicates the user rejected (or the platform blocks) access
// to the positioning sensor. Terminal for the current sharing attempt.
func PermissionDenied(detail string) *AppError {
	return &AppError{
		Type:       PermissionDeniedError,
		Message:    "Location permission denied",
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

// PositionUnavailable indicates the sensor could not produce a fix.
func PositionUnavailable(detail string) *AppError {
	return &AppError{
		Type:       PositionUnavailableError,
		Message:    "Location unavailable",
		Detail:     detail,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// SensorTimeout indicates the sensor did not produce a fix in time.
func SensorTimeout(detail string) *AppError {
	return &AppError{
		Type:       TimeoutError,
		Message:    "Location request timed out",
		Detail:     detail,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Unsupported indicates the positioning sensor API is absent on this platform.
func Unsupported(detail string) *AppError {
	return &AppError{
		Type:       UnsupportedError,
		Message:    "Location not supported on this device",
		Detail:     detail,
		HTTPStatus: http.StatusNotImplemented,
	}
}

// NewNetworkError wraps a failed location push. Non-fatal for an active watch:
// the next throttle-eligible fix retries automatically.
func NewNetworkError(err error) *AppError {
	return &AppError{
		Type:       NetworkError,
		Message:    "Failed to send location update",
		Detail:     err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Raw:        err,
	}
}

// AuthenticationRequired indicates a push was attempted without a valid session.
func AuthenticationRequired(detail string) *AppError {
	return &AppError{
		Type:       AuthenticationRequiredError,
		Message:    "No authenticated session",
		Detail:     detail,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// SubscriptionDegraded indicates the baseline reconciliation load failed while
// the live feed still functions. Logged, never fatal.
func SubscriptionDegraded(err error) *AppError {
	return &AppError{
		Type:       SubscriptionUnavailable,
		Message:    "Presence reconciliation unavailable",
		Detail:     err.Error(),
		HTTPStatus: http.StatusServiceUnavailable,
		Raw:        err,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthError, AuthenticationRequiredError:
		return http.StatusUnauthorized
	case DatabaseError:
		return http.StatusInternalServerError
	case ForbiddenError, PermissionDeniedError:
		return http.StatusForbidden
	case PositionUnavailableError, SubscriptionUnavailable:
		return http.StatusServiceUnavailable
	case TimeoutError:
		return http.StatusGatewayTimeout
	case UnsupportedError:
		return http.StatusNotImplemented
	case NetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
