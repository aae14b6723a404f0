package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Device    string `json:"device"`
	UseHashid bool
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate enforces the payload constraints before any state changes.
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
	)
}

// RegisterUserResult is delivered to the OnResponse callback after a
// successful registration.
type RegisterUserResult struct {
	User    *User
	Session *LoginResult
}

// RegisterUserHandler creates the identity, issues the email verification
// token, and grants the initial session.
type RegisterUserHandler struct {
	repo          RepositoryManager
	authenticator *Authenticator
	config        Config
	notifier      Notifier
	activity      ActivitySink
	logger        Logger
	onResponse    func(ctx context.Context, res RegisterUserResult) error
	now           func() time.Time
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, authenticator *Authenticator, config Config) *RegisterUserHandler {
	config.Normalize()
	return &RegisterUserHandler{
		repo:          repo,
		authenticator: authenticator,
		config:        config,
		notifier:      noopNotifier{},
		activity:      noopActivitySink{},
		logger:        defLogger{},
		now:           time.Now,
	}
}

// WithNotifier sets the transport used to deliver the verification email.
func (h *RegisterUserHandler) WithNotifier(n Notifier) *RegisterUserHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithOnResponse registers a callback receiving the created user and the
// initial session.
func (h *RegisterUserHandler) WithOnResponse(fn func(ctx context.Context, res RegisterUserResult) error) *RegisterUserHandler {
	h.onResponse = fn
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RegisterUserHandler) WithClock(clock func() time.Time) *RegisterUserHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	user := &User{}
	verification := &EphemeralToken{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPasswordWithCost(event.Password, h.config.BcryptCost)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if existing, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email); err == nil && existing != nil {
			return ErrDuplicateIdentity
		} else if err != nil && !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing identity")
		}

		user.PasswordHash = hash
		user.Email = event.Email
		user.FirstName = event.FirstName
		user.LastName = event.LastName
		if role, ok := ParseRole(event.Role); ok {
			user.Role = role
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(NormalizeEmail(event.Email)); err == nil {
				user.ID = id
			}
		}

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
				WithTextCode(TextCodeDuplicateIdentity)
		}

		verification = NewEmailVerificationToken(user.ID, h.config.EmailVerificationTTL, h.now())
		if verification, err = h.repo.Tokens().IssueTx(ctx, tx, verification); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue verification token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	dispatch(ctx, h.notifier, h.logger, Notification{
		Channel:   ChannelEmail,
		Kind:      NotificationEmailVerification,
		Recipient: user.Email,
		Token:     verification.Value,
	})

	h.recordActivity(ctx, user)

	session, err := h.authenticator.GrantSession(ctx, user, event.Device)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to grant initial session")
	}

	if h.onResponse != nil {
		return h.onResponse(ctx, RegisterUserResult{User: user, Session: session})
	}

	return nil
}

func (h *RegisterUserHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType:  ActivityEventRegistration,
		Actor:      ActorRef{Type: "user", ID: user.ID.String()},
		UserID:     user.ID.String(),
		OccurredAt: h.now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("register user activity sink error: %v", err)
	}
}
