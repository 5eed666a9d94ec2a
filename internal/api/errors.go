package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/engine"
	"github.com/nerrad567/doorbell-sync/internal/provider"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeProvider           = "provider_error"
	ErrCodeProviderTimeout    = "provider_timeout"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// writeDomainError maps device, engine and provider errors onto HTTP
// responses. fallback is the message used for unexpected errors.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, provider.ErrNotFound):
		writeNotFound(w, "provider device not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already registered")
	case errors.Is(err, engine.ErrDeviceDisabled):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is disabled")
	case errors.Is(err, engine.ErrUnknownAction):
		writeBadRequest(w, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		writeServiceUnavailable(w, "provider is unavailable")
	case errors.Is(err, provider.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeProviderTimeout, "provider did not respond")
	case errors.Is(err, provider.ErrAuthFailed):
		writeError(w, http.StatusBadGateway, ErrCodeProvider, "provider authentication failed")
	case errors.Is(err, provider.ErrCommandRejected):
		writeError(w, http.StatusBadGateway, ErrCodeProvider, "provider rejected the command")
	default:
		writeInternalError(w, fallback)
	}
}

// isValidationError checks whether an error is a device validation error.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidProviderID) ||
		errors.Is(err, device.ErrInvalidStateKey) ||
		errors.Is(err, device.ErrInvalidState)
}
