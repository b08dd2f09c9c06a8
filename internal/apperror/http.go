package apperror

import (
	"errors"
	"net/http"
)

// InternalMessage replaces the message of every 500 response.
const InternalMessage = "An internal error occurred"

// HTTPStatus maps err to a status code and the error kind sent to
// clients. Anything that is not an *AppError is 500 internal_error, even
// if it wraps a sentinel.
//
// ErrInvalidToken is checked before ErrInvalidCredential because it wraps
// it: a bad token is 403, a bad password 401.
func HTTPStatus(err error) (int, string) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal_error"
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden, "invalid_token"
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, ErrAccountBanned):
		return http.StatusForbidden, "account_banned"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_error"
}
