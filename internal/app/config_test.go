package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/lendflow/lendflow/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("IDENTITY_PROVIDER", "local")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.ApprovalMaxAttempts)
	require.Equal(t, "lendflow", cfg.JWTIssuer)
	require.False(t, cfg.IsProduction())
	require.True(t, InTestMode())
}

func TestValidateRejectsHTTPProviderWithoutURL(t *testing.T) {
	cfg := Config{JWTSecret: "x", IdentityProvider: "http", ApprovalMaxAttempts: 1}
	require.Error(t, cfg.Validate())
	cfg.IdentityURL = "https://idp.example"
	require.NoError(t, cfg.Validate())

	cfg.IdentityProvider = "ldap"
	require.Error(t, cfg.Validate())
}
