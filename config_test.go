package credentials_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalizeFillsDefaults(t *testing.T) {
	cfg := credentials.Config{SigningKey: "test-signing-key"}
	cfg.Normalize()

	def := credentials.DefaultConfig()
	assert.Equal(t, def.Issuer, cfg.Issuer)
	assert.Equal(t, def.AccessTokenTTL, cfg.AccessTokenTTL)
	assert.Equal(t, def.RefreshTokenTTL, cfg.RefreshTokenTTL)
	assert.Equal(t, def.LockoutThreshold, cfg.LockoutThreshold)
	assert.Equal(t, def.LockDuration, cfg.LockDuration)
	assert.Equal(t, def.TokenMaxAttempts, cfg.TokenMaxAttempts)
	assert.Equal(t, "test-signing-key", cfg.SigningKey, "normalize never touches the key")
}

func TestConfigNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := credentials.Config{
		AccessTokenTTL:   5 * time.Minute,
		LockoutThreshold: 10,
	}
	cfg.Normalize()

	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 10, cfg.LockoutThreshold)
}

func TestConfigValidateRequiresSigningKey(t *testing.T) {
	cfg := credentials.DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.SigningKey = "test-signing-key"
	assert.NoError(t, cfg.Validate())
}

func TestConfigTokenTTLByKind(t *testing.T) {
	cfg := credentials.DefaultConfig()

	assert.Equal(t, cfg.EmailVerificationTTL, cfg.TokenTTL(credentials.TokenKindEmailVerification))
	assert.Equal(t, cfg.PasswordResetTTL, cfg.TokenTTL(credentials.TokenKindPasswordReset))
	assert.Equal(t, cfg.MagicLinkTTL, cfg.TokenTTL(credentials.TokenKindMagicLink))
	assert.Equal(t, cfg.PhoneOTPTTL, cfg.TokenTTL(credentials.TokenKindPhoneOTP))
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CREDENTIALS_SIGNING_KEY", "env-signing-key")
	t.Setenv("CREDENTIALS_ACCESS_TTL", "5m")
	t.Setenv("CREDENTIALS_LOCKOUT_THRESHOLD", "7")

	cfg, err := credentials.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "env-signing-key", cfg.SigningKey)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7, cfg.LockoutThreshold)
	assert.Equal(t, credentials.DefaultConfig().RefreshTokenTTL, cfg.RefreshTokenTTL)
}
