package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// IdentityStore owns the identity record: verification flags, password
// digest, lockout counters, and the two-factor secret and backup codes.
type IdentityStore interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// TrackAttemptedLogin persists the attempt counter and lock state as
	// computed on the record, both for failed attempts and for the reset
	// after a successful password check.
	TrackAttemptedLogin(ctx context.Context, user *User) (*User, error)
	// TrackSuccessfulLogin clears attempt accounting and stamps last login.
	// Called only on the access-granted tail of a login flow.
	TrackSuccessfulLogin(ctx context.Context, user *User) error

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	CommitPhone(ctx context.Context, id uuid.UUID, phone string) error
	SaveTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error
	Deactivate(ctx context.Context, id uuid.UUID) error

	// ReplaceBackupCodes swaps the whole set atomically.
	ReplaceBackupCodes(ctx context.Context, id uuid.UUID, codes []string) error
	// ConsumeBackupCode burns the matching unused code; false when no code
	// matched or it was already consumed.
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, code string) (bool, error)
}

// TokenLedger owns the single-use expiring tokens backing email
// verification, password reset, magic-link login, and phone OTP.
type TokenLedger interface {
	Issue(ctx context.Context, token *EphemeralToken) (*EphemeralToken, error)
	// FindValid resolves a token by (value, kind) if it is unused, unexpired,
	// and under the attempt cap. Lookup does not consume; callers check
	// contextual constraints before MarkUsed so a valid token is not burned
	// on a contextual mismatch.
	FindValid(ctx context.Context, value string, kind TokenKind) (*EphemeralToken, error)
	// FindValidForUser scopes the lookup to the holder. Required for the
	// low-entropy kinds whose values can repeat across identities.
	FindValidForUser(ctx context.Context, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error)
	// MarkUsed consumes the token. Exactly-once: a second call returns
	// ErrTokenAlreadyUsed.
	MarkUsed(ctx context.Context, token *EphemeralToken) error
	// RecordAttempt increments the failed-redemption counter on the exact
	// token row.
	RecordAttempt(ctx context.Context, token *EphemeralToken) error
	DeleteExpired(ctx context.Context) (int, error)
}

// SessionRegistry owns the set of refresh-credential records per identity.
// Implementations serialize mutation per identity with atomic conditional
// operations keyed by the credential value.
type SessionRegistry interface {
	Add(ctx context.Context, session *Session) error
	// Rotate atomically replaces the entry matching oldValue. Returns false
	// when oldValue is not present or already expired; callers must treat
	// that as an authentication failure, never a silent no-op.
	Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error)
	// Revoke removes one session by credential value. Revoking a value that
	// is not present is idempotent success.
	Revoke(ctx context.Context, identityID uuid.UUID, value string) error
	// RevokeAll clears every session for the identity except the one
	// matching exceptValue, when given and present. Returns removed count.
	RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error)
	ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error)
}

// TokenService mints and validates the signed credentials. Every minted
// token carries a type claim and Validate enforces it, so a refresh or
// two-factor token can never stand in for an access token.
type TokenService interface {
	IssueAccessToken(identity Identity, resourceRoles map[string]string) (string, error)
	IssueRefreshToken(identity Identity) (string, time.Time, error)
	IssueTwoFactorToken(identity Identity) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string, expected TokenType) (AuthClaims, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] CREDENTIALS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
