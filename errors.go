package credentials

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Machine readable text codes surfaced alongside structured errors.
const (
	TextCodeInvalidCreds         = "INVALID_CREDENTIALS"
	TextCodeAccountLocked        = "ACCOUNT_LOCKED"
	TextCodeDuplicateIdentity    = "DUPLICATE_IDENTITY"
	TextCodeTokenInvalid         = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeTokenTypeMismatch    = "TOKEN_TYPE_MISMATCH"
	TextCodeTokenAlreadyUsed     = "TOKEN_ALREADY_USED"
	TextCodeTwoFactorRequired    = "TWO_FACTOR_REQUIRED"
	TextCodeInvalidTwoFactorCode = "INVALID_TWO_FACTOR_CODE"
	TextCodeTwoFactorNotEnabled  = "TWO_FACTOR_NOT_ENABLED"
	TextCodeAlreadyVerified      = "ALREADY_VERIFIED"
	TextCodeIdentityNotFound     = "IDENTITY_NOT_FOUND"
	TextCodeSessionDecodeError   = "SESSION_DECODE_ERROR"
	TextCodeEmptyPassword        = "NO_EMPTY_PASSWORD"
	TextCodeDataParseError       = "DATA_PARSE_ERROR"
)

// ErrInvalidCredentials covers both an unknown email and a wrong password so
// callers cannot probe which addresses are registered.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds)

// ErrAccountLocked is returned while a lockout window is in effect. Unlike
// identity existence, lockout state is intentionally disclosed to the caller.
var ErrAccountLocked = goerrors.New("account is temporarily locked after repeated failed logins", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked)

// ErrDuplicateIdentity is returned when registering an email that is taken.
var ErrDuplicateIdentity = goerrors.New("an identity with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrInvalidOrExpiredToken covers every ephemeral token kind plus reused or
// expired refresh credentials; the underlying cause is logged, never returned.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid)

// ErrTokenAlreadyUsed is returned on a second MarkUsed of the same token.
var ErrTokenAlreadyUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed)

// ErrTwoFactorRequired signals the pending state between a successful
// password check and two-factor completion. A flow signal, not a failure.
var ErrTwoFactorRequired = goerrors.New("two-factor verification required", goerrors.CategoryAuth).
	WithTextCode(TextCodeTwoFactorRequired)

// ErrInvalidTwoFactorCode is returned when a TOTP or backup code check fails.
var ErrInvalidTwoFactorCode = goerrors.New("invalid two-factor code", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidTwoFactorCode)

// ErrTwoFactorNotEnabled is returned when an operation needs an enabled
// second factor and the identity has none.
var ErrTwoFactorNotEnabled = goerrors.New("two-factor authentication is not enabled", goerrors.CategoryConflict).
	WithTextCode(TextCodeTwoFactorNotEnabled)

// ErrAlreadyVerified is returned when requesting verification for an
// attribute that is already verified.
var ErrAlreadyVerified = goerrors.New("already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired is returned when a signed credential is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed is returned when a signed credential cannot be parsed.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed)

// ErrTokenTypeMismatch is returned when a signed credential carries a valid
// signature but the wrong type claim, e.g. a two-factor token presented as
// an access token.
var ErrTokenTypeMismatch = goerrors.New("token type mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenTypeMismatch)

// ErrUnableToDecodeSession unable to decode a signed credential into claims
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionDecodeError)

// ErrUnableToParseData parse error
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError)

// ErrNoEmptyString rejects empty secrets handed to the hasher.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword)

// ErrMismatchedHashAndPassword hash error
var ErrMismatchedHashAndPassword = goerrors.New("hashed password mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsLockoutError reports whether err is the lockout outcome.
func IsLockoutError(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrAccountLocked)
}

// IsTwoFactorRequired reports whether err is the pending-state signal rather
// than a terminal failure.
func IsTwoFactorRequired(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrTwoFactorRequired)
}
