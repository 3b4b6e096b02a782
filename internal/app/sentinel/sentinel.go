// Package sentinel defines the error values services return so the HTTP
// layer can map failures to status codes in one place. Wrap with fmt.Errorf
// and %w to add context.
package sentinel

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation (duplicate mint, duplicate account).
	ErrConflict = errors.New("conflict")
	// ErrInvalid indicates the request failed validation.
	ErrInvalid = errors.New("invalid request")
	// ErrUnauthorized indicates missing or unusable credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates valid credentials without sufficient rights.
	ErrForbidden = errors.New("forbidden")
	// ErrExpired indicates a credential past its expiry.
	ErrExpired = errors.New("expired")
)
