package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "password.reset.finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
	)
}

// FinalizePasswordResetHandler redeems a reset token, replaces the password
// digest, and revokes every session for the identity so a stolen refresh
// credential dies with the old password.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	config   Config
	notifier Notifier
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, config Config) *FinalizePasswordResetHandler {
	config.Normalize()
	return &FinalizePasswordResetHandler{
		repo:     repo,
		config:   config,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithNotifier sets the transport used to confirm the change.
func (h *FinalizePasswordResetHandler) WithNotifier(n Notifier) *FinalizePasswordResetHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *FinalizePasswordResetHandler) WithClock(clock func() time.Time) *FinalizePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.repo.Tokens().FindValidTx(ctx, tx, event.Token, TokenKindPasswordReset)
		if err != nil {
			return err
		}

		passwordHash, err := HashPasswordWithCost(event.Password, h.config.BcryptCost)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Tokens().MarkUsedTx(ctx, tx, token); err != nil {
			return err
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, token.UserID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		if _, err := h.repo.Sessions().RevokeAllTx(ctx, tx, token.UserID, ""); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke active sessions")
		}

		if user, err = h.repo.Users().GetByID(ctx, token.UserID.String()); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user after reset")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset transaction failed")
	}

	dispatch(ctx, h.notifier, h.logger, Notification{
		Channel:   ChannelEmail,
		Kind:      NotificationPasswordChanged,
		Recipient: user.Email,
	})

	activityEvent := ActivityEvent{
		EventType:  ActivityEventPasswordResetSuccess,
		Actor:      ActorRef{Type: "user", ID: user.ID.String()},
		UserID:     user.ID.String(),
		OccurredAt: h.now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, activityEvent); err != nil {
		h.logger.Warn("password reset activity sink error: %v", err)
	}

	return nil
}
