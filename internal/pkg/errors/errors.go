package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeInvalidName        = "INVALID_NAME"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeMaintenance        = "MAINTENANCE_UNAVAILABLE"
	ErrCodeSchemaError        = "SCHEMA_ERROR"
	ErrCodeIntegrityViolation = "INTEGRITY_VIOLATION"
	ErrCodeSyncConflict       = "SYNC_CONFLICT"
	ErrCodeRetriesExhausted   = "RETRIES_EXHAUSTED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Sentinel errors for the schema lifecycle. Callers match with errors.Is and
// map to an HTTP status via CodeOf/StatusOf at the edge.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidName        = errors.New("invalid schema name")
	ErrAccessDenied       = errors.New("access denied")
	ErrMaintenance        = errors.New("tenant is under maintenance")
	ErrSchema             = errors.New("schema error")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrSyncConflict       = errors.New("unresolvable sync conflict")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return ErrCodeAlreadyExists
	case errors.Is(err, ErrInvalidName):
		return ErrCodeInvalidName
	case errors.Is(err, ErrAccessDenied):
		return ErrCodeAccessDenied
	case errors.Is(err, ErrMaintenance):
		return ErrCodeMaintenance
	case errors.Is(err, ErrSchema):
		return ErrCodeSchemaError
	case errors.Is(err, ErrIntegrityViolation):
		return ErrCodeIntegrityViolation
	case errors.Is(err, ErrSyncConflict):
		return ErrCodeSyncConflict
	case errors.Is(err, ErrRetriesExhausted):
		return ErrCodeRetriesExhausted
	default:
		return ErrCodeInternal
	}
}

func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrMaintenance):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}
