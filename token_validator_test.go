package credentials_test

import (
	"testing"

	"github.com/goliatone/go-credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiTokenValidatorFallsThroughOnRotatedKey(t *testing.T) {
	oldCfg := tokenTestConfig()
	oldCfg.SigningKey = "retired-signing-key"
	oldSvc := credentials.NewTokenService(oldCfg, testLogger{})

	newSvc := credentials.NewTokenService(tokenTestConfig(), testLogger{})

	identity, id := tokenTestIdentity()
	oldToken, err := oldSvc.IssueAccessToken(identity, nil)
	require.NoError(t, err)
	newToken, err := newSvc.IssueAccessToken(identity, nil)
	require.NoError(t, err)

	validator := credentials.NewMultiTokenValidator(newSvc, oldSvc)

	claims, err := validator.Validate(newToken, credentials.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.UserID())

	claims, err = validator.Validate(oldToken, credentials.TokenTypeAccess)
	require.NoError(t, err, "tokens minted under the previous key stay valid")
	assert.Equal(t, id.String(), claims.UserID())

	_, err = validator.Validate("not-a-jwt", credentials.TokenTypeAccess)
	assert.Error(t, err)
}

func TestMultiTokenValidatorStopsOnTypeMismatch(t *testing.T) {
	svc := credentials.NewTokenService(tokenTestConfig(), testLogger{})
	identity, _ := tokenTestIdentity()

	refresh, _, err := svc.IssueRefreshToken(identity)
	require.NoError(t, err)

	validator := credentials.NewMultiTokenValidator(svc, svc)

	_, err = validator.Validate(refresh, credentials.TokenTypeAccess)
	assert.ErrorIs(t, err, credentials.ErrTokenTypeMismatch, "a type mismatch is not a key problem, no fallthrough")
}

func TestMultiTokenValidatorEmpty(t *testing.T) {
	validator := credentials.NewMultiTokenValidator(nil, nil)

	_, err := validator.Validate("anything", credentials.TokenTypeAccess)
	assert.ErrorIs(t, err, credentials.ErrTokenMalformed)
}

func TestTokenValidatorFunc(t *testing.T) {
	var nilFunc credentials.TokenValidatorFunc
	_, err := nilFunc.Validate("anything", credentials.TokenTypeAccess)
	assert.ErrorIs(t, err, credentials.ErrUnableToDecodeSession)

	called := false
	fn := credentials.TokenValidatorFunc(func(tokenString string, expected credentials.TokenType) (credentials.AuthClaims, error) {
		called = true
		return nil, credentials.ErrTokenExpired
	})

	_, err = fn.Validate("anything", credentials.TokenTypeAccess)
	assert.True(t, called)
	assert.ErrorIs(t, err, credentials.ErrTokenExpired)
}
