package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/lendflow/lendflow/internal/shared"
)

func TestTokenRoundTripCarriesSelection(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, "lendflow")
	tenant := int64(4)
	token, expiresAt, err := issuer.Issue(shared.Principal{ActorID: 9, Role: "CLERK", TenantID: &tenant})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	p, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, int64(9), p.ActorID)
	require.Equal(t, "CLERK", p.Role)
	require.Equal(t, tenant, *p.TenantID)
}

func TestTokenRejectsForgeryAndExpiry(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute, "lendflow")
	token, _, err := issuer.Issue(shared.Principal{ActorID: 1})
	require.NoError(t, err)

	_, err = NewTokenIssuer("other", time.Minute, "lendflow").Parse(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = NewTokenIssuer("secret", time.Minute, "someone-else").Parse(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	later := NewTokenIssuer("secret", time.Minute, "lendflow")
	later.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = later.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "iss": "lendflow"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(none)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
