package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

// Error codes returned in the error envelope
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "TOKEN_INVALID"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent
			return
		}
	}
}

// WriteError writes {"error": {"code": "ERROR_CODE", "message": "..."}}
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
	WriteJSON(w, status, response)
}

// WriteMediaError maps a pipeline error to its HTTP status and code.
// Unclassified errors are logged and reported as 500 without details.
func WriteMediaError(w http.ResponseWriter, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, model.ErrPostNotFound):
		WriteNotFound(w, "Deed not found")
		return
	case errors.Is(err, model.ErrSelectionNotFound):
		WriteNotFound(w, "Selection not found or expired")
		return
	case errors.Is(err, model.ErrIllegalTransition):
		WriteConflict(w, err.Error())
		return
	}

	kind := model.KindOf(err)
	switch kind {
	case model.KindUnsupportedMedia, model.KindValidationFailure:
		WriteError(w, http.StatusBadRequest, string(kind), err.Error())
	case model.KindTooLarge:
		WriteError(w, http.StatusBadRequest, model.CodeFileTooLarge, err.Error())
	case model.KindPermissionDenied:
		WriteError(w, http.StatusForbidden, string(kind), "You do not have access to this deed")
	case model.KindDecodeFailure:
		WriteError(w, http.StatusUnprocessableEntity, string(kind), err.Error())
	case model.KindTransportFailure:
		WriteError(w, http.StatusBadGateway, string(kind), err.Error())
	default:
		log.Errorf("Unhandled error: %v", err)
		WriteInternalError(w, "Internal server error")
	}
}

// Common error response helpers

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteUnauthorized writes a 401 Unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// WriteUnauthorizedWithCode writes a 401 Unauthorized error with a custom code
func WriteUnauthorizedWithCode(w http.ResponseWriter, code string, message string) {
	WriteError(w, http.StatusUnauthorized, code, message)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteConflict writes a 409 Conflict error
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
