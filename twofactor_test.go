package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-credentials"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// totpCodeAt mirrors the validation parameters so tests can mint real codes.
func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func TestTwoFactorSetupAndEnable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")

	manager := credentials.NewTwoFactorManager(store, "go-credentials").
		WithClock(fixedClock(now))

	setup, err := manager.Setup(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://totp/")
	assert.False(t, user.TwoFactorEnabled, "setup alone must not enable")

	codes, err := manager.VerifyAndEnable(ctx, user, totpCodeAt(t, setup.Secret, now))
	require.NoError(t, err)
	assert.Len(t, codes, credentials.BackupCodeCount)
	assert.True(t, user.TwoFactorEnabled)

	stored, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.TwoFactorEnabled)
	assert.Equal(t, setup.Secret, stored.TwoFactorSecret)
}

func TestTwoFactorSetupRejectsWhenAlreadyEnabled(t *testing.T) {
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")
	user.TwoFactorEnabled = true

	manager := credentials.NewTwoFactorManager(store, "go-credentials")

	_, err := manager.Setup(context.Background(), user)
	assert.ErrorIs(t, err, credentials.ErrAlreadyVerified)
}

func TestTwoFactorEnableRejectsBadCode(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")

	manager := credentials.NewTwoFactorManager(store, "go-credentials")

	_, err := manager.VerifyAndEnable(ctx, user, "000000")
	assert.ErrorIs(t, err, credentials.ErrTwoFactorNotEnabled, "no pending secret yet")

	_, err = manager.Setup(ctx, user)
	require.NoError(t, err)

	_, err = manager.VerifyAndEnable(ctx, user, "000000")
	assert.ErrorIs(t, err, credentials.ErrInvalidTwoFactorCode)
	assert.False(t, user.TwoFactorEnabled)
}

func TestTwoFactorValidateCodeAcceptsAdjacentPeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := credentials.NewMemoryIdentityStore()
	manager := credentials.NewTwoFactorManager(store, "go-credentials").
		WithClock(fixedClock(now))

	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")
	setup, err := manager.Setup(context.Background(), user)
	require.NoError(t, err)

	assert.True(t, manager.ValidateCode(setup.Secret, totpCodeAt(t, setup.Secret, now.Add(-30*time.Second))))
	assert.True(t, manager.ValidateCode(setup.Secret, totpCodeAt(t, setup.Secret, now.Add(30*time.Second))))
	assert.False(t, manager.ValidateCode(setup.Secret, totpCodeAt(t, setup.Secret, now.Add(-2*time.Minute))))
	assert.False(t, manager.ValidateCode("", "123456"))
	assert.False(t, manager.ValidateCode(setup.Secret, ""))
}

func enableTwoFactor(t *testing.T, manager *credentials.TwoFactorManager, store *credentials.MemoryIdentityStore, user *credentials.User, now time.Time) (string, []string) {
	t.Helper()

	setup, err := manager.Setup(context.Background(), user)
	require.NoError(t, err)

	codes, err := manager.VerifyAndEnable(context.Background(), user, totpCodeAt(t, setup.Secret, now))
	require.NoError(t, err)
	return setup.Secret, codes
}

func TestTwoFactorChallengeWithBackupCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")

	manager := credentials.NewTwoFactorManager(store, "go-credentials").
		WithClock(fixedClock(now))
	secret, codes := enableTwoFactor(t, manager, store, user, now)

	require.NoError(t, manager.VerifyChallenge(ctx, user, totpCodeAt(t, secret, now)))

	backup := codes[0]
	require.NoError(t, manager.VerifyChallenge(ctx, user, backup))

	err := manager.VerifyChallenge(ctx, user, backup)
	assert.ErrorIs(t, err, credentials.ErrInvalidTwoFactorCode, "a backup code works exactly once")

	require.NoError(t, manager.VerifyChallenge(ctx, user, codes[1]), "remaining codes stay valid")
}

func TestTwoFactorRegenerateInvalidatesOldBackupCodes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")

	manager := credentials.NewTwoFactorManager(store, "go-credentials").
		WithClock(fixedClock(now))
	secret, oldCodes := enableTwoFactor(t, manager, store, user, now)

	newCodes, err := manager.RegenerateBackupCodes(ctx, user, totpCodeAt(t, secret, now))
	require.NoError(t, err)
	require.Len(t, newCodes, credentials.BackupCodeCount)
	assert.NotEqual(t, oldCodes, newCodes)

	err = manager.VerifyChallenge(ctx, user, oldCodes[0])
	assert.ErrorIs(t, err, credentials.ErrInvalidTwoFactorCode)

	require.NoError(t, manager.VerifyChallenge(ctx, user, newCodes[0]))
}

func TestTwoFactorDisableRequiresValidCode(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := credentials.NewMemoryIdentityStore()
	user := seedUser(t, store, "pepe@example.com", "super-secret-pass")

	manager := credentials.NewTwoFactorManager(store, "go-credentials").
		WithClock(fixedClock(now))
	secret, codes := enableTwoFactor(t, manager, store, user, now)

	err := manager.Disable(ctx, user, "000000")
	assert.ErrorIs(t, err, credentials.ErrInvalidTwoFactorCode)
	assert.True(t, user.TwoFactorEnabled)

	require.NoError(t, manager.Disable(ctx, user, totpCodeAt(t, secret, now)))
	assert.False(t, user.TwoFactorEnabled)
	assert.Empty(t, user.TwoFactorSecret)

	err = manager.VerifyChallenge(ctx, user, codes[0])
	assert.ErrorIs(t, err, credentials.ErrTwoFactorNotEnabled)
}
