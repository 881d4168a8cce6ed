// Package errors maps procctl errors onto HTTP responses with a stable JSON
// envelope:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "request_id": "..."}}
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/3leaps/procctl/internal/observability"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/storage"
)

// Error codes used in the envelope.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeInvalidSpec        = "INVALID_SPEC"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeNotReady           = "NOT_READY"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorBody is the payload of HTTPErrorResponse.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError is an error that already knows its status and code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// New returns an HTTPError.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// WithDetails attaches extra context to the envelope.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	e.Details = details
	return e
}

// BadRequest wraps a client error.
func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// FromError maps err to a status and code. Unrecognized errors are 500.
func FromError(err error) (int, string) {
	var he *HTTPError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.As(err, &he):
		return he.Status, he.Code
	case stderrors.Is(err, jobregistry.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, jobregistry.ErrNotReady):
		return http.StatusConflict, CodeNotReady
	case stderrors.Is(err, jobregistry.ErrRegistryClosed):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case jobs.IsInputError(err):
		return http.StatusBadRequest, CodeInvalidSpec
	case stderrors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the envelope for err. Messages of internal
// errors are replaced so implementation details do not leak.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := FromError(err)
	body := ErrorBody{Code: code, Message: err.Error()}

	var he *HTTPError
	if stderrors.As(err, &he) {
		body.Message = he.Message
		body.Details = he.Details
	}
	if status == http.StatusInternalServerError && he == nil {
		body.Message = "internal server error"
	}
	if r != nil {
		body.RequestID = observability.RequestIDFromContext(r.Context())
	}
	WriteError(w, status, body)
}

// WriteError writes body as the envelope with status.
func WriteError(w http.ResponseWriter, status int, body ErrorBody) {
	WriteJSON(w, status, HTTPErrorResponse{Error: body})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
