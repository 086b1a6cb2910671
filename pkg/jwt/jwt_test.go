package jwt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examforge/examforge/pkg/jwt"
)

type testClaims struct {
	UserID int64 `json:"uid"`
	jwt.StandardClaims
}

func TestGenerateParseRoundtrip(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-size")
	require.NoError(t, err)

	token, err := svc.Generate(testClaims{
		UserID: 42,
		StandardClaims: jwt.StandardClaims{
			Subject:   "42",
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	require.NoError(t, err)

	var parsed testClaims
	require.NoError(t, svc.Parse(token, &parsed))
	assert.Equal(t, int64(42), parsed.UserID)
	assert.Equal(t, "42", parsed.Subject)
}

func TestParseRejectsTampering(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-size")
	require.NoError(t, err)

	token, err := svc.Generate(testClaims{UserID: 42})
	require.NoError(t, err)

	var parsed testClaims
	assert.ErrorIs(t, svc.Parse(token+"x", &parsed), jwt.ErrInvalidSignature)
}

func TestParseRejectsWrongKey(t *testing.T) {
	t.Parallel()

	signer, err := jwt.NewFromString("key-one-key-one-key-one-key-one")
	require.NoError(t, err)
	verifier, err := jwt.NewFromString("key-two-key-two-key-two-key-two")
	require.NoError(t, err)

	token, err := signer.Generate(testClaims{UserID: 42})
	require.NoError(t, err)

	var parsed testClaims
	assert.ErrorIs(t, verifier.Parse(token, &parsed), jwt.ErrInvalidSignature)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-size")
	require.NoError(t, err)

	token, err := svc.Generate(testClaims{
		UserID: 42,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		},
	})
	require.NoError(t, err)

	var parsed testClaims
	assert.ErrorIs(t, svc.Parse(token, &parsed), jwt.ErrExpiredToken)
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := jwt.NewFromString("")
	assert.ErrorIs(t, err, jwt.ErrMissingSigningKey)
}
