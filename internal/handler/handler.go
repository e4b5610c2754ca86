// Package handler provides the HTTP handlers of the notes API and maps
// service errors onto the API's JSON error shape.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/notely/notely/internal/handler/dto"
	"github.com/notely/notely/internal/middleware"
	"github.com/notely/notely/internal/service"
)

// Client-visible messages. The web client renders these verbatim.
const (
	msgInternal           = "Internal Server Error"
	msgConflict           = "Conflict: A user with this email already exists."
	msgInvalidCredentials = "Invalid email or password."
	msgInvalidOTP         = "The OTP provided is invalid."
	msgAlreadyVerified    = "This account has already been verified."
	msgNotVerified        = "Please verify your email before logging in."
	msgUnauthorized       = "User not authorized"
	msgUserNotFound       = "User not found."
	msgNoteNotFound       = "Note not found"
	msgInvalidState       = "Sign-in session expired. Please try again."
	msgInvalidJSON        = "Invalid request body"
	msgPayloadTooLarge    = "Request body too large"
)

// NotFound handles 404 responses for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Code: code, Message: message})
}

// decodeJSON strictly decodes a single JSON object into dst. It writes the
// error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msgPayloadTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", msgInvalidJSON)
		return false
	}

	// Reject trailing data such as a second object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", msgInvalidJSON)
		return false
	}
	return true
}

// errorMapping is the status, code and message a service error surfaces as.
type errorMapping struct {
	status  int
	code    string
	message string
}

// mapServiceError translates service sentinels. notFound is the message for
// ErrNotFound, which differs per resource.
func mapServiceError(err error, notFound string) errorMapping {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return errorMapping{http.StatusBadRequest, "VALIDATION_ERROR", verr.Message}
	case errors.Is(err, service.ErrConflict):
		return errorMapping{http.StatusConflict, "CONFLICT", msgConflict}
	case errors.Is(err, service.ErrInvalidCredentials):
		return errorMapping{http.StatusUnauthorized, "INVALID_CREDENTIALS", msgInvalidCredentials}
	case errors.Is(err, service.ErrInvalidOTP):
		return errorMapping{http.StatusBadRequest, "INVALID_OTP", msgInvalidOTP}
	case errors.Is(err, service.ErrAlreadyVerified):
		return errorMapping{http.StatusBadRequest, "ALREADY_VERIFIED", msgAlreadyVerified}
	case errors.Is(err, service.ErrNotVerified):
		return errorMapping{http.StatusForbidden, "NOT_VERIFIED", msgNotVerified}
	case errors.Is(err, service.ErrUnauthorized):
		return errorMapping{http.StatusUnauthorized, "UNAUTHORIZED", msgUnauthorized}
	case errors.Is(err, service.ErrInvalidState):
		return errorMapping{http.StatusBadRequest, "INVALID_STATE", msgInvalidState}
	case errors.Is(err, service.ErrNotFound):
		return errorMapping{http.StatusNotFound, "NOT_FOUND", notFound}
	default:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", msgInternal}
	}
}

// handleServiceError writes the mapped error. Unexpected errors are logged
// with full detail and surfaced generically.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, notFound string) {
	m := mapServiceError(err, notFound)
	if m.status == http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
	}
	writeError(w, m.status, m.code, m.message)
}
