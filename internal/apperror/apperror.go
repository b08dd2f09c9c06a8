// Package apperror defines the error kinds every layer of Cloudtype speaks.
//
// Repositories and services return these; only the HTTP layer turns them
// into status codes, through HTTPStatus. Anything that is not an *AppError
// is treated as a storage failure and reported as an opaque 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAccountBanned     = errors.New("account banned")

	// KIND HIERARCHY:
	// A duplicate handle IS a conflict, and a bad token IS an invalid
	// credential. Wrapping the parent sentinel with %w means
	// errors.Is(ErrDuplicateHandle, ErrConflict) == true, so generic
	// callers can match the family and specific callers the exact kind.
	ErrDuplicateHandle  = fmt.Errorf("duplicate handle: %w", ErrConflict)
	ErrDuplicateContact = fmt.Errorf("duplicate contact: %w", ErrConflict)
	ErrInvalidToken     = fmt.Errorf("invalid token: %w", ErrInvalidCredential)
)

// AppError carries a kind (Err, one of the sentinels above), the message
// shown to API clients and, for validation and conflict kinds, the
// request field at fault.
type AppError struct {
	Err     error
	Message string
	Field   string
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.Err }

// NotFound reports a missing identity, post or attachment.
func NotFound(resource, key string) *AppError {
	return &AppError{Err: ErrNotFound, Message: fmt.Sprintf("%s %s not found", resource, key)}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{Err: ErrValidation, Message: message, Field: field}
}

// Conflict reports a unique key clash other than handle or email, such as
// a GitHub account already linked to another identity.
func Conflict(resource, key string) *AppError {
	return &AppError{Err: ErrConflict, Message: fmt.Sprintf("%s %s is already in use", resource, key)}
}

// Forbidden is an authenticated caller without the required role.
func Forbidden(message string) *AppError {
	return &AppError{Err: ErrForbidden, Message: message}
}

// DuplicateHandle reports a registration whose handle is already taken.
func DuplicateHandle(handle string) *AppError {
	return &AppError{
		Err:     ErrDuplicateHandle,
		Message: fmt.Sprintf("username %s already exists", handle),
		Field:   "username",
	}
}

// DuplicateContact reports a registration whose email is already taken.
func DuplicateContact(contact string) *AppError {
	return &AppError{
		Err:     ErrDuplicateContact,
		Message: fmt.Sprintf("email %s already exists", contact),
		Field:   "email",
	}
}

// Unauthenticated is returned when a protected operation receives no token.
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "access token required",
	}
}

// InvalidCredential is returned for a failed login. The message is the same
// for an unknown handle and a wrong password so callers cannot probe handles.
func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "invalid credentials",
	}
}

// InvalidToken is returned when a presented token fails validation.
func InvalidToken(reason string) *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: "invalid token: " + reason,
	}
}

// AccountBanned is returned when a banned identity tries to authenticate.
func AccountBanned(handle string) *AppError {
	return &AppError{
		Err:     ErrAccountBanned,
		Message: fmt.Sprintf("account %s is banned", handle),
	}
}
