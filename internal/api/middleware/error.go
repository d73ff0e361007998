// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/logger"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteErrorWithDetails(w, status, errCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with additional details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, errCode, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
		Details: details,
	})
}

var kindStatus = map[apperror.Kind]int{
	apperror.KindValidation: http.StatusBadRequest,
	apperror.KindForbidden:  http.StatusForbidden,
	apperror.KindNotFound:   http.StatusNotFound,
	apperror.KindConflict:   http.StatusConflict,
}

// WriteAppError maps a service error to its response. Errors that carry no
// application kind are logged and reported as 500.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperror.As(err); ok {
		status, known := kindStatus[appErr.Kind]
		if known {
			var details any
			if len(appErr.Fields) > 0 {
				details = appErr.Fields
			}
			WriteErrorWithDetails(w, status, string(appErr.Kind), appErr.Message, details)
			return
		}
	}

	log.Errorw("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"user_id", UserID(r.Context()),
		"error", err,
	)
	WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
}

// ErrorRecovery is middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("Panic recovered", "error", err, "path", r.URL.Path, "stack", string(debug.Stack()))
				WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Common error codes
const (
	ErrNotFound      = "not_found"
	ErrBadRequest    = "bad_request"
	ErrConflict      = "conflict"
	ErrInternalError = "internal_error"
	ErrValidation    = "validation_error"
	ErrUnauthorized  = "unauthorized"
	ErrForbidden     = "forbidden"
)

var log = logger.Named("api")
