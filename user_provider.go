package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// CredentialProvider resolves identities and verifies their passwords,
// applying the lockout policy. It is the only component that touches the
// password digest.
type CredentialProvider struct {
	store        IdentityStore
	config       Config
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// NewCredentialProvider will create a new CredentialProvider
func NewCredentialProvider(store IdentityStore, config Config) *CredentialProvider {
	config.Normalize()
	return &CredentialProvider{
		store:        store,
		config:       config,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (p *CredentialProvider) WithLogger(l Logger) *CredentialProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithActivitySink sets the sink used to publish login events.
func (p *CredentialProvider) WithActivitySink(sink ActivitySink) *CredentialProvider {
	p.activitySink = normalizeActivitySink(sink)
	return p
}

// WithClock injects a custom clock (useful for tests).
func (p *CredentialProvider) WithClock(clock func() time.Time) *CredentialProvider {
	if clock != nil {
		p.now = clock
	}
	return p
}

// VerifyIdentity finds the user by email and checks the password against the
// lockout policy. An unknown email and a wrong password both come back as
// ErrInvalidCredentials so callers cannot probe which addresses exist; only
// lockout state is disclosed.
func (p *CredentialProvider) VerifyIdentity(ctx context.Context, email, password string) (*User, error) {
	user, err := p.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.IsNotFound(err) {
			// burn a hash comparison so the miss costs the same as a mismatch
			_ = ComparePasswordAndHash(password, RandomPasswordHash())
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user == nil || !user.Active {
		return nil, ErrInvalidCredentials
	}

	now := p.now()
	if user.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	cred, ok := user.Credential().(LocalCredential)
	if !ok {
		// federated identities carry no local password to check
		return nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, cred.Digest); err != nil {
		return nil, p.registerFailure(ctx, user, now)
	}

	// clear the attempt accounting now, but leave the last-login stamp to
	// the access-granted tail: with a second factor enabled the password
	// check alone does not complete a login
	if user.LoginAttempts > 0 || user.Locked {
		user.ResetAttempts()
		if _, err := p.store.TrackAttemptedLogin(ctx, user); err != nil {
			p.logger.Error("failed to persist attempt reset: %v", err)
		}
	}

	return user, nil
}

// FindIdentityByEmail resolves an active identity without a password check,
// for flows that prove control of the mailbox instead.
func (p *CredentialProvider) FindIdentityByEmail(ctx context.Context, email string) (*User, error) {
	user, err := p.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}

	if user == nil || !user.Active {
		return nil, ErrIdentityNotFound
	}

	return user, nil
}

func (p *CredentialProvider) registerFailure(ctx context.Context, user *User, now time.Time) error {
	lockedNow := user.RegisterFailedAttempt(now, p.config.LockoutThreshold, p.config.LockDuration)

	if _, err := p.store.TrackAttemptedLogin(ctx, user); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to track login attempt")
	}

	p.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"attempts": user.LoginAttempts},
	})

	if lockedNow {
		p.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventAccountLocked,
			UserID:    user.ID.String(),
		})
		return ErrAccountLocked
	}

	return ErrInvalidCredentials
}

func (p *CredentialProvider) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}
	if err := normalizeActivitySink(p.activitySink).Record(ctx, event); err != nil {
		p.logger.Warn("credential provider activity sink error: %v", err)
	}
}
