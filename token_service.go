package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey   []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	twoFactorTTL time.Duration
	issuer       string
	audience     jwt.ClaimStrings
	logger       Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey:   []byte(cfg.SigningKey),
		accessTTL:    cfg.AccessTokenTTL,
		refreshTTL:   cfg.RefreshTokenTTL,
		twoFactorTTL: cfg.TwoFactorTokenTTL,
		issuer:       cfg.Issuer,
		audience:     jwt.ClaimStrings(cfg.Audience),
		logger:       logger,
	}
}

// IssueAccessToken mints the short-lived credential with resource specific roles
func (ts *TokenServiceImpl) IssueAccessToken(identity Identity, resourceRoles map[string]string) (string, error) {
	claims := ts.baseClaims(identity, TokenTypeAccess, ts.accessTTL)
	claims.Resources = resourceRoles
	return ts.SignClaims(claims)
}

// IssueRefreshToken mints the long-lived rotation credential and returns its
// expiry so the caller can register the session under the same deadline.
func (ts *TokenServiceImpl) IssueRefreshToken(identity Identity) (string, time.Time, error) {
	claims := ts.baseClaims(identity, TokenTypeRefresh, ts.refreshTTL)
	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.RegisteredClaims.ExpiresAt.Time, nil
}

// IssueTwoFactorToken mints the intermediate credential handed back when a
// password check succeeds on an identity with a second factor enabled. It
// grants nothing but the right to attempt two-factor completion.
func (ts *TokenServiceImpl) IssueTwoFactorToken(identity Identity) (string, error) {
	token, _, err := MintScopedToken(ts, identity, nil, ScopedTokenOptions{
		TTL:       ts.twoFactorTTL,
		TokenType: TokenTypeTwoFactor,
		Scopes:    []string{"two_factor:complete"},
	})
	return token, err
}

func (ts *TokenServiceImpl) baseClaims(identity Identity, typ TokenType, ttl time.Duration) *JWTClaims {
	now := time.Now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:       identity.ID(),
		UserRole:  identity.Role(),
		TokenType: typ,
	}
	ensureTokenID(&claims.RegisteredClaims)
	return claims
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims.
// The expected token type is enforced after signature and expiry checks.
func (ts *TokenServiceImpl) Validate(tokenString string, expected TokenType) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrUnableToDecodeSession
	}

	if claims.TokenType != expected {
		ts.logger.Warn("TokenService validate rejected token type %q, expected %q", claims.TokenType, expected)
		return nil, ErrTokenTypeMismatch
	}

	return claims, nil
}

func (ts *TokenServiceImpl) tokenDefaults() tokenDefaults {
	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	return tokenDefaults{
		issuer:   ts.issuer,
		audience: aud,
		ttl:      ts.accessTTL,
	}
}
