// Package identity provisions external login identities for new actors.
package identity

import (
	"context"
	"fmt"
)

// Request asks a provider to create an identity. IdempotencyKey must be
// stable across retries of the same logical request.
type Request struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	TenantID       int64  `json:"tenant_id"`
	IdempotencyKey string `json:"-"`
}

// Identity is the provider's answer. ActivationToken is only set by
// providers that hand out invitation secrets, and only on first creation.
type Identity struct {
	ExternalID      string `json:"external_id"`
	ActivationToken string `json:"-"`
}

// Provider creates external identities.
type Provider interface {
	CreateIdentity(ctx context.Context, req Request) (Identity, error)
}

// Code classifies a Failure.
type Code string

const (
	CodeConflict    Code = "conflict"
	CodeInvalid     Code = "invalid"
	CodeUnavailable Code = "unavailable"
)

// Failure is the typed error returned by providers.
type Failure struct {
	Code      Code
	Detail    string
	Retryable bool
	err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("identity provider %s: %s", f.Code, f.Detail)
}

// Unwrap returns the transport or storage error behind the failure, if any.
func (f *Failure) Unwrap() error { return f.err }

func unavailable(detail string, err error) *Failure {
	return &Failure{Code: CodeUnavailable, Detail: detail, Retryable: true, err: err}
}
