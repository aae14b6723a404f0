package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ResourceRoleProvider resolves resource-level roles embedded in access
// token claims.
type ResourceRoleProvider interface {
	FindResourceRoles(ctx context.Context, identity Identity) (map[string]string, error)
}

type noopResourceRoleProvider struct{}

func (noopResourceRoleProvider) FindResourceRoles(context.Context, Identity) (map[string]string, error) {
	return nil, nil
}

// LoginResult is the outcome of a successful authentication step. When
// TwoFactorRequired is set only TwoFactorToken is populated; the caller must
// come back through CompleteTwoFactor to obtain the session pair.
type LoginResult struct {
	AccessToken       string
	RefreshToken      string
	TwoFactorToken    string
	TwoFactorRequired bool
	Identity          Identity
}

// Authenticator drives the login flows and the session lifecycle.
type Authenticator struct {
	provider     *CredentialProvider
	store        IdentityStore
	sessions     SessionRegistry
	twoFactor    *TwoFactorManager
	tokens       TokenService
	roleProvider ResourceRoleProvider
	config       Config
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider *CredentialProvider, store IdentityStore, sessions SessionRegistry, twoFactor *TwoFactorManager, config Config) *Authenticator {
	config.Normalize()
	return &Authenticator{
		provider:     provider,
		store:        store,
		sessions:     sessions,
		twoFactor:    twoFactor,
		tokens:       NewTokenService(config, defLogger{}),
		roleProvider: noopResourceRoleProvider{},
		config:       config,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger != nil {
		s.logger = logger
		s.tokens = NewTokenService(s.config, logger)
	}
	return s
}

// WithTokenService overrides the default token service.
func (s *Authenticator) WithTokenService(tokens TokenService) *Authenticator {
	if tokens != nil {
		s.tokens = tokens
	}
	return s
}

// WithResourceRoleProvider enables resource-level permissions in access tokens.
func (s *Authenticator) WithResourceRoleProvider(provider ResourceRoleProvider) *Authenticator {
	if provider != nil {
		s.roleProvider = provider
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Authenticator) TokenService() TokenService {
	return s.tokens
}

// Login checks the password and either grants a session or, when a second
// factor is enabled, hands back an intermediate two-factor token that grants
// nothing but the right to attempt the challenge.
func (s *Authenticator) Login(ctx context.Context, email, password, device string) (*LoginResult, error) {
	user, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Error("Login verify identity error: %v", err)
		return nil, err
	}

	identity := NewIdentityFromUser(user)

	if user.TwoFactorEnabled {
		challenge, err := s.tokens.IssueTwoFactorToken(identity)
		if err != nil {
			return nil, err
		}

		s.emitAuthEvent(ctx, ActivityEventTwoFactorChallenged, s.actorFromIdentity(identity), identity.ID(), nil)

		return &LoginResult{
			TwoFactorToken:    challenge,
			TwoFactorRequired: true,
			Identity:          identity,
		}, nil
	}

	return s.GrantSession(ctx, user, device)
}

// CompleteTwoFactor redeems the intermediate token plus a TOTP or backup
// code for a full session. The intermediate token is only accepted here; its
// type claim bars it from every other endpoint.
func (s *Authenticator) CompleteTwoFactor(ctx context.Context, twoFactorToken, code, device string) (*LoginResult, error) {
	claims, err := s.tokens.Validate(twoFactorToken, TokenTypeTwoFactor)
	if err != nil {
		s.logger.Warn("CompleteTwoFactor token rejected: %v", err)
		return nil, ErrInvalidOrExpiredToken
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	if err := s.twoFactor.VerifyChallenge(ctx, user, code); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "user", ID: user.ID.String()}, user.ID.String(), map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	return s.GrantSession(ctx, user, device)
}

// GrantSession mints the access and refresh pair and registers the session.
// Used by the password, two-factor, and magic-link completion paths.
func (s *Authenticator) GrantSession(ctx context.Context, user *User, device string) (*LoginResult, error) {
	identity := NewIdentityFromUser(user)

	resourceRoles, err := s.roleProvider.FindResourceRoles(ctx, identity)
	if err != nil {
		s.logger.Error("failed to fetch resource roles: %v", err)
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(identity, resourceRoles)
	if err != nil {
		return nil, err
	}

	refresh, expiresAt, err := s.tokens.IssueRefreshToken(identity)
	if err != nil {
		return nil, err
	}

	session := NewSession(user.ID, refresh, device, s.config.RefreshTokenTTL, s.now())
	session.ExpiresAt = expiresAt
	if err := s.sessions.Add(ctx, session); err != nil {
		return nil, err
	}

	// every access-granted tail stamps last login, magic link included
	user.ResetAttempts()
	if err := s.store.TrackSuccessfulLogin(ctx, user); err != nil {
		s.logger.Error("failed to track successful login: %v", err)
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"device": session.Device,
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Identity:     identity,
	}, nil
}

// Refresh rotates a refresh credential: the presented value is atomically
// replaced by a new one, and a fresh access token is minted. A value that is
// unknown, expired, or already rotated is an authentication failure; a
// replayed value after rotation means theft, so every session for the
// identity is revoked.
func (s *Authenticator) Refresh(ctx context.Context, refreshToken, device string) (*LoginResult, error) {
	claims, err := s.tokens.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		s.logger.Warn("Refresh token rejected: %v", err)
		return nil, ErrInvalidOrExpiredToken
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidOrExpiredToken
	}

	identity := NewIdentityFromUser(user)

	newRefresh, expiresAt, err := s.tokens.IssueRefreshToken(identity)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessions.Rotate(ctx, user.ID, refreshToken, newRefresh, expiresAt, device)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// a signed, unexpired credential missing from the registry was
		// already rotated: someone replayed it
		removed, rerr := s.sessions.RevokeAll(ctx, user.ID, "")
		if rerr != nil {
			s.logger.Error("failed to revoke sessions after refresh reuse: %v", rerr)
		}
		s.emitAuthEvent(ctx, ActivityEventSessionRevoked, ActorRef{Type: "system"}, user.ID.String(), map[string]any{
			"reason":  "refresh_reuse",
			"removed": removed,
		})
		return nil, ErrInvalidOrExpiredToken
	}

	resourceRoles, err := s.roleProvider.FindResourceRoles(ctx, identity)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(identity, resourceRoles)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: newRefresh,
		Identity:     identity,
	}, nil
}

// Logout revokes one session by its refresh credential. Revoking a value
// that is not registered succeeds: the end state is identical.
func (s *Authenticator) Logout(ctx context.Context, identityID uuid.UUID, refreshToken string) error {
	if err := s.sessions.Revoke(ctx, identityID, refreshToken); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventSessionRevoked, ActorRef{Type: "user", ID: identityID.String()}, identityID.String(), map[string]any{
		"reason": "logout",
	})

	return nil
}

// LogoutAll revokes every session for the identity except, optionally, the
// one matching exceptValue. Returns how many were removed.
func (s *Authenticator) LogoutAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error) {
	removed, err := s.sessions.RevokeAll(ctx, identityID, exceptValue)
	if err != nil {
		return 0, err
	}

	s.emitAuthEvent(ctx, ActivityEventSessionRevoked, ActorRef{Type: "user", ID: identityID.String()}, identityID.String(), map[string]any{
		"reason":  "logout_all",
		"removed": removed,
	})

	return removed, nil
}

// ListSessions enumerates the active sessions for an identity.
func (s *Authenticator) ListSessions(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	return s.sessions.ListActive(ctx, identityID)
}

// ValidateAccessToken parses and validates an access token string.
func (s *Authenticator) ValidateAccessToken(tokenString string) (AuthClaims, error) {
	return s.tokens.Validate(tokenString, TokenTypeAccess)
}

func (s *Authenticator) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{Type: "user", ID: identity.ID()}
}

func (s *Authenticator) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if err := normalizeActivitySink(s.activitySink).Record(ctx, event); err != nil {
		s.logger.Warn("authenticator activity sink error: %v", err)
	}
}
