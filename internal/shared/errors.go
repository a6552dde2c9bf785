package shared

import (
	"errors"
	"net/http"

	"github.com/lendflow/lendflow/internal/platform/httpx"
)

// Error is a domain error with a user-safe message classified by one of the
// httpx sentinels, so transports can map it without knowing the domain.
type Error struct {
	msg  string
	kind error
}

// NewError builds an Error of the given kind.
func NewError(kind error, msg string) *Error {
	return &Error{msg: msg, kind: kind}
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the classification sentinel.
func (e *Error) Unwrap() error { return e.kind }

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(httpx.ErrNotFound, "not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = NewError(httpx.ErrUnauthorized, "invalid credentials")
	// ErrUnauthenticated indicates the request carries no usable identity.
	ErrUnauthenticated = NewError(httpx.ErrUnauthorized, "authentication required")
	// ErrUnauthorized indicates a failed capability check.
	ErrUnauthorized = NewError(httpx.ErrForbidden, "you do not have permission to perform this action")
)

const genericMessage = "something went wrong, please try again"

// UserSafeMessage returns a message that can be shown to the caller. Domain
// errors expose their own message; anything else collapses to a generic one.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.msg
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "please correct the highlighted fields"
	}
	return genericMessage
}

// IsUserFacing reports whether err carries a classification transports
// understand. Unclassified errors should be logged before responding.
func IsUserFacing(err error) bool {
	return httpx.StatusFor(err) != http.StatusInternalServerError
}
