// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vantage-admin/vantage/internal/shared"
)

// Sentinel errors for handler-level conditions that have no AdminError kind.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to RFC7807 responses. AdminError carries
// its own status and kind; everything else falls through the sentinels.
func RespondError(w http.ResponseWriter, err error) {
	if adminErr, ok := shared.AsAdminError(err); ok {
		JSON(w, adminErr.HTTPStatus(), ProblemDetail{
			Type:    string(adminErr.Kind),
			Title:   http.StatusText(adminErr.HTTPStatus()),
			Status:  adminErr.HTTPStatus(),
			Detail:  adminErr.Message,
			Context: adminErr.Context,
		})
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// WantsJSON reports whether the client expects a JSON body rather than a
// redirect. Fetch-based admin pages set X-Requested-With; API clients send
// an explicit Accept header.
func WantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}
