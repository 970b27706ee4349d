package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "alice", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "alice"})
	require.NoError(t, err)

	_, err = ParseToken([]byte("other-secret"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := ParseToken(secret, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(secret, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token, err := IssueToken(secret, Claims{})
	require.NoError(t, err)

	_, err = ParseToken(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(secret, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeUnverified(t *testing.T) {
	token, err := IssueToken([]byte("some-other-issuer"), Claims{Sub: "migrator"})
	require.NoError(t, err)

	claims, err := DecodeUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "migrator", claims.Sub)

	_, err = DecodeUnverified("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
