package credentials

import (
	"time"

	"github.com/caarlos0/env/v10"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds every tunable the components take at construction. Durations
// and thresholds are explicit; nothing is read from ambient globals.
type Config struct {
	SigningKey string   `env:"CREDENTIALS_SIGNING_KEY"`
	Issuer     string   `env:"CREDENTIALS_ISSUER" envDefault:"go-credentials"`
	Audience   []string `env:"CREDENTIALS_AUDIENCE" envSeparator:","`

	AccessTokenTTL    time.Duration `env:"CREDENTIALS_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenTTL   time.Duration `env:"CREDENTIALS_REFRESH_TTL" envDefault:"168h"`
	TwoFactorTokenTTL time.Duration `env:"CREDENTIALS_2FA_TTL" envDefault:"10m"`

	LockoutThreshold int           `env:"CREDENTIALS_LOCKOUT_THRESHOLD" envDefault:"5"`
	LockDuration     time.Duration `env:"CREDENTIALS_LOCK_DURATION" envDefault:"2h"`

	EmailVerificationTTL time.Duration `env:"CREDENTIALS_EMAIL_VERIFICATION_TTL" envDefault:"24h"`
	PasswordResetTTL     time.Duration `env:"CREDENTIALS_RESET_TTL" envDefault:"30m"`
	MagicLinkTTL         time.Duration `env:"CREDENTIALS_MAGIC_LINK_TTL" envDefault:"30m"`
	PhoneOTPTTL          time.Duration `env:"CREDENTIALS_OTP_TTL" envDefault:"10m"`
	TokenMaxAttempts     int           `env:"CREDENTIALS_TOKEN_MAX_ATTEMPTS" envDefault:"3"`

	BcryptCost int `env:"CREDENTIALS_BCRYPT_COST" envDefault:"12"`

	SweepInterval time.Duration `env:"CREDENTIALS_SWEEP_INTERVAL" envDefault:"1h"`
}

// DefaultConfig returns a config populated with the documented defaults.
// The signing key is intentionally left empty and must be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:               "go-credentials",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		TwoFactorTokenTTL:    10 * time.Minute,
		LockoutThreshold:     5,
		LockDuration:         2 * time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     30 * time.Minute,
		MagicLinkTTL:         30 * time.Minute,
		PhoneOTPTTL:          10 * time.Minute,
		TokenMaxAttempts:     3,
		BcryptCost:           12,
		SweepInterval:        time.Hour,
	}
}

// LoadConfig reads configuration from the environment, falling back to the
// documented defaults for anything unset.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse configuration from environment")
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills any zero valued option with its documented default so a
// partially populated Config is always safe to hand to a component.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Issuer == "" {
		c.Issuer = def.Issuer
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = def.AccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = def.RefreshTokenTTL
	}
	if c.TwoFactorTokenTTL <= 0 {
		c.TwoFactorTokenTTL = def.TwoFactorTokenTTL
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = def.LockoutThreshold
	}
	if c.LockDuration <= 0 {
		c.LockDuration = def.LockDuration
	}
	if c.EmailVerificationTTL <= 0 {
		c.EmailVerificationTTL = def.EmailVerificationTTL
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = def.PasswordResetTTL
	}
	if c.MagicLinkTTL <= 0 {
		c.MagicLinkTTL = def.MagicLinkTTL
	}
	if c.PhoneOTPTTL <= 0 {
		c.PhoneOTPTTL = def.PhoneOTPTTL
	}
	if c.TokenMaxAttempts <= 0 {
		c.TokenMaxAttempts = def.TokenMaxAttempts
	}
	if c.BcryptCost <= 0 {
		c.BcryptCost = def.BcryptCost
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
}

// Validate ensures the options a deployment must provide are present.
func (c Config) Validate() error {
	if c.SigningKey == "" {
		return goerrors.New("signing key is required", goerrors.CategoryValidation).
			WithTextCode("MISSING_SIGNING_KEY")
	}
	return nil
}

// TokenTTL returns the configured TTL for an ephemeral token kind.
func (c Config) TokenTTL(kind TokenKind) time.Duration {
	switch kind {
	case TokenKindEmailVerification:
		return c.EmailVerificationTTL
	case TokenKindPasswordReset:
		return c.PasswordResetTTL
	case TokenKindMagicLink:
		return c.MagicLinkTTL
	case TokenKindPhoneOTP:
		return c.PhoneOTPTTL
	default:
		return c.PasswordResetTTL
	}
}
