package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/procctl/internal/errors"
)

// httpErrorResponder writes error responses for every handler in this
// package. Tests and embedders may swap it.
var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error responder; nil restores the
// default.
func SetHTTPErrorResponder(fn func(http.ResponseWriter, *http.Request, error)) {
	if fn == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// NotFoundHandler answers unknown routes with the JSON envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "route not found: "+r.URL.Path))
}

// MethodNotAllowedHandler answers known routes hit with the wrong method.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.New(http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed, "method "+r.Method+" not allowed"))
}
