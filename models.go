package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID        uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role      UserRole  `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName string    `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName  string    `bun:"last_name,notnull" json:"last_name,omitempty"`
	Email     string    `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone     string    `bun:"phone_number,nullzero" json:"phone_number,omitempty"`

	// PasswordHash is empty only for identities provisioned by an external
	// federation; see Credential.
	PasswordHash      string `bun:"password_hash" json:"-"`
	FederatedProvider string `bun:"federated_provider,nullzero" json:"federated_provider,omitempty"`
	FederatedID       string `bun:"federated_id,nullzero" json:"federated_id,omitempty"`

	EmailVerified bool `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	PhoneVerified bool `bun:"is_phone_verified" json:"is_phone_verified,omitempty"`

	TwoFactorEnabled bool   `bun:"two_factor_enabled" json:"two_factor_enabled,omitempty"`
	TwoFactorSecret  string `bun:"two_factor_secret" json:"-"`

	LoginAttempts int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	Locked        bool       `bun:"is_locked" json:"is_locked,omitempty"`
	LockExpiresAt *time.Time `bun:"lock_expires_at,nullzero" json:"lock_expires_at,omitempty"`

	LastLoginAt       *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`

	Active bool `bun:"is_active" json:"is_active,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Credential is the tagged credential variant. Whether a password is
// required is a property of the variant, not a runtime conditional on a
// federation id column.
type Credential interface {
	RequiresPassword() bool
}

// LocalCredential is a password digest owned by this system.
type LocalCredential struct {
	Digest string
}

func (LocalCredential) RequiresPassword() bool { return true }

// FederatedCredential is a linkage to an external identity provider; no
// local password exists for it.
type FederatedCredential struct {
	Provider   string
	ExternalID string
}

func (FederatedCredential) RequiresPassword() bool { return false }

// Credential returns the tagged variant for this identity.
func (u *User) Credential() Credential {
	if u.FederatedProvider != "" {
		return FederatedCredential{Provider: u.FederatedProvider, ExternalID: u.FederatedID}
	}
	return LocalCredential{Digest: u.PasswordHash}
}

// IsLocked reports whether the lockout window is in effect at the given
// instant. A lock whose expiry has passed counts as not locked; the flag
// itself is only cleared by ResetAttempts or the amnesty path.
func (u *User) IsLocked(now time.Time) bool {
	return u.Locked && u.LockExpiresAt != nil && u.LockExpiresAt.After(now)
}

// RegisterFailedAttempt applies one failed login to the lockout accounting
// and reports whether the lock engaged on this attempt. When a previous lock
// has already expired the counter restarts at 1 instead of accumulating.
func (u *User) RegisterFailedAttempt(now time.Time, threshold int, lockFor time.Duration) bool {
	if u.LockExpiresAt != nil && u.LockExpiresAt.Before(now) {
		u.LoginAttempts = 1
		u.Locked = false
		u.LockExpiresAt = nil
		return false
	}

	u.LoginAttempts++
	if u.LoginAttempts >= threshold && !u.Locked {
		until := now.Add(lockFor)
		u.Locked = true
		u.LockExpiresAt = &until
		return true
	}
	return false
}

// ResetAttempts clears the lockout accounting after a successful check.
func (u *User) ResetAttempts() {
	u.LoginAttempts = 0
	u.Locked = false
	u.LockExpiresAt = nil
}

// MangledEmail returns the irreversible replacement written on
// deactivation, freeing the unique email slot for reuse.
func (u *User) MangledEmail(now time.Time) string {
	return fmt.Sprintf("deleted-%d-%s", now.Unix(), u.Email)
}

// TokenKind discriminates the ephemeral token variants.
type TokenKind string

const (
	TokenKindEmailVerification TokenKind = "email_verification"
	TokenKindPasswordReset     TokenKind = "password_reset"
	TokenKindMagicLink         TokenKind = "magic_link"
	TokenKindPhoneOTP          TokenKind = "phone_otp"
)

// EphemeralToken is a single-use expiring token. Only the phone_otp variant
// carries a payload: the pending phone number, held here because the number
// is not committed to the identity until the OTP is redeemed.
type EphemeralToken struct {
	bun.BaseModel `bun:"table:ephemeral_tokens,alias:tok"`

	ID           uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID       uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Kind         TokenKind  `bun:"kind,notnull" json:"kind,omitempty"`
	Value        string     `bun:"value,notnull" json:"-"`
	PendingPhone string     `bun:"pending_phone,nullzero" json:"-"`
	ExpiresAt    time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Used         bool       `bun:"used" json:"used,omitempty"`
	UsedAt       *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	Attempts     int        `bun:"attempts" json:"attempts,omitempty"`
	CreatedAt    *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// MaxTokenAttempts is the default cap on failed redemption checks per token.
// The ledgers take the effective cap from Config.TokenMaxAttempts.
const MaxTokenAttempts = 3

// IsValid reports the single validity invariant: unused, unexpired, and
// under the default attempt cap.
func (t *EphemeralToken) IsValid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt) && t.Attempts < MaxTokenAttempts
}

// NewEmailVerificationToken issues a high-entropy email verification token.
func NewEmailVerificationToken(userID uuid.UUID, ttl time.Duration, now time.Time) *EphemeralToken {
	return newOpaqueToken(userID, TokenKindEmailVerification, ttl, now)
}

// NewPasswordResetToken issues a high-entropy password reset token.
func NewPasswordResetToken(userID uuid.UUID, ttl time.Duration, now time.Time) *EphemeralToken {
	return newOpaqueToken(userID, TokenKindPasswordReset, ttl, now)
}

// NewMagicLinkToken issues a high-entropy magic-link login token.
func NewMagicLinkToken(userID uuid.UUID, ttl time.Duration, now time.Time) *EphemeralToken {
	return newOpaqueToken(userID, TokenKindMagicLink, ttl, now)
}

// NewPhoneOTPToken issues a 6 digit numeric code bound to the phone number
// awaiting verification.
func NewPhoneOTPToken(userID uuid.UUID, phone string, ttl time.Duration, now time.Time) *EphemeralToken {
	return &EphemeralToken{
		ID:           uuid.New(),
		UserID:       userID,
		Kind:         TokenKindPhoneOTP,
		Value:        GenerateOTP(),
		PendingPhone: phone,
		ExpiresAt:    now.Add(ttl),
	}
}

func newOpaqueToken(userID uuid.UUID, kind TokenKind, ttl time.Duration, now time.Time) *EphemeralToken {
	return &EphemeralToken{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Value:     GenerateSecureToken(),
		ExpiresAt: now.Add(ttl),
	}
}

// Session is one refresh-credential record. Set membership is keyed by the
// opaque credential value.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`

	ID        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID    uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Value     string     `bun:"value,notnull,unique" json:"-"`
	Device    string     `bun:"device,nullzero" json:"device,omitempty"`
	ExpiresAt time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewSession builds a registry entry for a freshly issued refresh credential.
func NewSession(userID uuid.UUID, value, device string, ttl time.Duration, now time.Time) *Session {
	if device == "" {
		device = "Unknown"
	}
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Value:     value,
		Device:    device,
		ExpiresAt: now.Add(ttl),
	}
}

// BackupCode is a single-use fallback credential for the two-factor
// challenge, consumed with the same exactly-once discipline as ephemeral
// tokens.
type BackupCode struct {
	bun.BaseModel `bun:"table:backup_codes,alias:bkc"`

	ID     uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Code   string     `bun:"code,notnull" json:"code,omitempty"`
	Used   bool       `bun:"used" json:"used,omitempty"`
	UsedAt *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
}

// GenerateSecureToken returns a 64 character hex string from 32 random bytes.
func GenerateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("credentials: system entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// GenerateOTP returns a 6 digit numeric code with a uniform distribution.
func GenerateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic("credentials: system entropy unavailable: " + err.Error())
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// GenerateBackupCodes returns count single-use codes, 8 uppercase hex
// characters each.
func GenerateBackupCodes(count int) []string {
	codes := make([]string, count)
	for i := range codes {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("credentials: system entropy unavailable: " + err.Error())
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(b))
	}
	return codes
}

// NormalizeEmail lowercases and trims an email for unique lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
