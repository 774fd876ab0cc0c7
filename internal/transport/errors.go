// Package transport implements the HTTP client for the chat service.
// This file centralizes the error values transport operations return so
// callers can branch on them with errors.Is / errors.As instead of matching
// strings.
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when an operation requires a resolved
	// current-user identity and none is available locally. Operations failing
	// this way are not retried; the user has to sign in first.
	ErrUnauthenticated = errors.New("not signed in")

	// ErrNotFound indicates the requested room or resource does not exist or
	// is not visible to the current user.
	ErrNotFound = errors.New("resource not found")
)

// APIError carries a non-2xx response from the chat service that does not map
// to one of the sentinel errors above.
type APIError struct {
	// Status is the HTTP status code of the response.
	Status int
	// Body is the raw response body, truncated for log hygiene.
	Body string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("chat service error (status %d): %s", e.Status, e.Body)
}
