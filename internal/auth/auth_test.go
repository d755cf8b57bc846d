package auth

import (
	"testing"

	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAdminKey, TestAdminSecret, types.RoleAdmin)

	token, err := service.GenerateToken(Credentials{
		APIKey:    TestAdminKey,
		APISecret: TestAdminSecret,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	require.Equal(t, TestAdminKey, claims.ClientID)
	require.Equal(t, types.RoleAdmin, claims.Role)
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret, types.RoleTrader)

	_, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: "wrong-secret",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{
		APIKey:    "unknown-key",
		APISecret: TestAPISecret,
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("issuer-secret")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret, types.RoleTrader)

	token, err := issuer.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)

	verifier := NewService("other-secret")
	_, err = verifier.ValidateToken(token.Token)
	require.Error(t, err)
}

func TestRegisterCredentialsDefaultsToTrader(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key", "secret", "")

	token, err := service.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	require.Equal(t, types.RoleTrader, claims.Role)
}
