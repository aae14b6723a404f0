package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (e InitializePasswordResetMessage) Type() string { return "password.reset.initialize" }

func (e InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetHandler issues a reset token and mails it out. The
// handler succeeds whether or not the email is registered, so the response
// never reveals which addresses exist.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	config   Config
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, config Config) *InitializePasswordResetHandler {
	config.Normalize()
	return &InitializePasswordResetHandler{
		repo:     repo,
		config:   config,
		notifier: noopNotifier{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithNotifier sets the transport used to deliver the reset email.
func (h *InitializePasswordResetHandler) WithNotifier(n Notifier) *InitializePasswordResetHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *InitializePasswordResetHandler) WithClock(clock func() time.Time) *InitializePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	token := &EphemeralToken{}
	var recipient string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.IsNotFound(err) {
				// swallow the miss: the caller gets the same answer either way
				h.logger.Info("password reset requested for unregistered email")
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
		}

		if !user.Active {
			return nil
		}

		token = NewPasswordResetToken(user.ID, h.config.PasswordResetTTL, h.now())
		if token, err = h.repo.Tokens().IssueTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue reset token")
		}

		recipient = user.Email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
	}

	if recipient != "" {
		dispatch(ctx, h.notifier, h.logger, Notification{
			Channel:   ChannelEmail,
			Kind:      NotificationPasswordReset,
			Recipient: recipient,
			Token:     token.Value,
		})
	}

	return nil
}
