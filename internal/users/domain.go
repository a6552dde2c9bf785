// Package users manages actors: the people who sign in and hold roles. Actors
// are never hard deleted.
package users

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
)

// User is an actor account.
type User struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	ExternalID *string    `json:"external_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the actor was soft deleted.
func (u User) Deleted() bool {
	return u.DeletedAt != nil
}

// NormalizeEmail returns the canonical comparison form of an address:
// trimmed, NFKC normalised and case folded.
func NormalizeEmail(email string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(email)))
}

var (
	// ErrUserNotFound indicates the actor does not exist or was deleted.
	ErrUserNotFound = shared.NewError(httpx.ErrNotFound, "user not found")
	// ErrEmailTaken indicates a live actor already uses the address.
	ErrEmailTaken = shared.NewError(httpx.ErrDuplicate, "a user with this email already exists")
	// ErrSelfDelete rejects deleting one's own account.
	ErrSelfDelete = shared.NewError(httpx.ErrConflict, "you cannot delete your own account")
)
