package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure
type ErrorBody struct {
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	RequestID  string                `json:"request_id,omitempty"`
	Violations []simpledoc.Violation `json:"violations,omitempty"`
}

// statusFor maps engine errors onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, simpledoc.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, simpledoc.ErrStaleCursor):
		return http.StatusBadRequest, "stale_cursor"
	case errors.Is(err, simpledoc.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, simpledoc.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, simpledoc.ErrNotFound), errors.Is(err, simpledoc.ErrBlobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpledoc.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, simpledoc.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, simpledoc.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, simpledoc.ErrAuditFailure):
		return http.StatusInternalServerError, "audit_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		} else {
			message = http.StatusText(status)
		}
	}

	var violations []simpledoc.Violation
	var verr *simpledoc.ValidationError
	if errors.As(err, &verr) {
		violations = verr.Violations
	}
	writeErrorBody(w, r, status, code, message, violations)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, message string, violations []simpledoc.Violation) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:       code,
		Message:    message,
		RequestID:  requestID(r.Context()),
		Violations: violations,
	}})
}
