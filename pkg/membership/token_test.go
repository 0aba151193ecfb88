package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateTokenIsValidateable(t *testing.T) {
	m := NewTokenManager()

	tok, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)

	require.NoError(t, m.ValidateToken(tok.Token))
}

func TestValidateTokenRejectsUnknown(t *testing.T) {
	m := NewTokenManager()

	err := m.ValidateToken("never-issued")
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := NewTokenManager()

	tok, err := m.GenerateToken(-time.Second)
	require.NoError(t, err)

	err = m.ValidateToken(tok.Token)
	require.Error(t, err)
}

func TestRevokeTokenInvalidatesIt(t *testing.T) {
	m := NewTokenManager()

	tok, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)

	m.RevokeToken(tok.Token)
	require.Error(t, m.ValidateToken(tok.Token))
}

func TestCleanupExpiredTokensDropsOnlyExpired(t *testing.T) {
	m := NewTokenManager()

	expired, err := m.GenerateToken(-time.Second)
	require.NoError(t, err)
	live, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)

	m.CleanupExpiredTokens()

	require.Error(t, m.ValidateToken(expired.Token))
	require.NoError(t, m.ValidateToken(live.Token))
}

func TestEnforcingIsStickyAcrossRevocation(t *testing.T) {
	m := NewTokenManager()
	require.False(t, m.Enforcing())

	tok, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)
	require.True(t, m.Enforcing())

	// Consuming the only outstanding token must not reopen the cluster.
	m.RevokeToken(tok.Token)
	require.True(t, m.Enforcing())
}

func TestGeneratedTokensAreUnique(t *testing.T) {
	m := NewTokenManager()

	a, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)
	b, err := m.GenerateToken(time.Minute)
	require.NoError(t, err)

	require.NotEqual(t, a.Token, b.Token)
}
