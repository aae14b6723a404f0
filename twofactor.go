package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// BackupCodeCount is how many single-use fallback codes a set holds.
const BackupCodeCount = 10

// TwoFactorSetup is the provisioning material handed back from Setup. The
// secret is not active until VerifyAndEnable confirms the authenticator
// produces matching codes.
type TwoFactorSetup struct {
	Secret     string
	OTPAuthURL string
}

// TwoFactorManager owns the TOTP secret lifecycle and the backup code set.
type TwoFactorManager struct {
	store  IdentityStore
	issuer string
	logger Logger
	now    func() time.Time
}

// NewTwoFactorManager will create a new TwoFactorManager
func NewTwoFactorManager(store IdentityStore, issuer string) *TwoFactorManager {
	return &TwoFactorManager{
		store:  store,
		issuer: issuer,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (m *TwoFactorManager) WithLogger(l Logger) *TwoFactorManager {
	if l != nil {
		m.logger = l
	}
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *TwoFactorManager) WithClock(clock func() time.Time) *TwoFactorManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Setup generates a fresh TOTP secret and stores it disabled. Calling Setup
// again before enablement replaces the pending secret.
func (m *TwoFactorManager) Setup(ctx context.Context, user *User) (*TwoFactorSetup, error) {
	if user == nil {
		return nil, ErrIdentityNotFound
	}
	if user.TwoFactorEnabled {
		return nil, ErrAlreadyVerified
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate TOTP secret")
	}

	if err := m.store.SaveTwoFactor(ctx, user.ID, key.Secret(), false); err != nil {
		return nil, err
	}

	user.TwoFactorSecret = key.Secret()
	user.TwoFactorEnabled = false

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// VerifyAndEnable confirms the authenticator produces valid codes, activates
// the second factor, and returns the freshly generated backup codes. The
// plain codes are only ever visible in this response.
func (m *TwoFactorManager) VerifyAndEnable(ctx context.Context, user *User, code string) ([]string, error) {
	if user == nil {
		return nil, ErrIdentityNotFound
	}
	if user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotEnabled
	}

	if !m.ValidateCode(user.TwoFactorSecret, code) {
		return nil, ErrInvalidTwoFactorCode
	}

	if err := m.store.SaveTwoFactor(ctx, user.ID, user.TwoFactorSecret, true); err != nil {
		return nil, err
	}

	codes := GenerateBackupCodes(BackupCodeCount)
	if err := m.store.ReplaceBackupCodes(ctx, user.ID, codes); err != nil {
		return nil, err
	}

	user.TwoFactorEnabled = true

	return codes, nil
}

// Disable turns the second factor off. A valid current code is required so
// a hijacked session cannot silently weaken the account.
func (m *TwoFactorManager) Disable(ctx context.Context, user *User, code string) error {
	if user == nil {
		return ErrIdentityNotFound
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if !m.ValidateCode(user.TwoFactorSecret, code) {
		return ErrInvalidTwoFactorCode
	}

	if err := m.store.SaveTwoFactor(ctx, user.ID, "", false); err != nil {
		return err
	}

	if err := m.store.ReplaceBackupCodes(ctx, user.ID, nil); err != nil {
		return err
	}

	user.TwoFactorEnabled = false
	user.TwoFactorSecret = ""

	return nil
}

// RegenerateBackupCodes replaces the whole backup set, invalidating any
// unused codes from the previous batch. Requires a valid current code.
func (m *TwoFactorManager) RegenerateBackupCodes(ctx context.Context, user *User, code string) ([]string, error) {
	if user == nil {
		return nil, ErrIdentityNotFound
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if !m.ValidateCode(user.TwoFactorSecret, code) {
		return nil, ErrInvalidTwoFactorCode
	}

	codes := GenerateBackupCodes(BackupCodeCount)
	if err := m.store.ReplaceBackupCodes(ctx, user.ID, codes); err != nil {
		return nil, err
	}

	return codes, nil
}

// VerifyChallenge checks a TOTP code and falls back to the single-use backup
// codes when the TOTP check fails.
func (m *TwoFactorManager) VerifyChallenge(ctx context.Context, user *User, code string) error {
	if user == nil {
		return ErrIdentityNotFound
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if m.ValidateCode(user.TwoFactorSecret, code) {
		return nil
	}

	consumed, err := m.store.ConsumeBackupCode(ctx, user.ID, code)
	if err != nil {
		return err
	}
	if consumed {
		m.logger.Info("backup code consumed for user %s", user.ID)
		return nil
	}

	return ErrInvalidTwoFactorCode
}

// ValidateCode checks a code against a secret, accepting one period of
// clock skew either side.
func (m *TwoFactorManager) ValidateCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		m.logger.Warn("TOTP validation error: %v", err)
		return false
	}
	return ok
}
