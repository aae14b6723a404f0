package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RequestEmailVerificationMessage struct {
	Email string `json:"email"`
}

func (e RequestEmailVerificationMessage) Type() string { return "email.verification.request" }

func (e RequestEmailVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// RequestEmailVerificationHandler reissues a verification token for an
// identity whose email is not yet verified. Unlike the reset request this
// one reports AlreadyVerified: the caller is authenticated as the owner, so
// there is nothing to hide.
type RequestEmailVerificationHandler struct {
	repo     RepositoryManager
	config   Config
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// NewRequestEmailVerificationHandler creates a handler with sane defaults.
func NewRequestEmailVerificationHandler(repo RepositoryManager, config Config) *RequestEmailVerificationHandler {
	config.Normalize()
	return &RequestEmailVerificationHandler{
		repo:     repo,
		config:   config,
		notifier: noopNotifier{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithNotifier sets the transport used to deliver the verification email.
func (h *RequestEmailVerificationHandler) WithNotifier(n Notifier) *RequestEmailVerificationHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestEmailVerificationHandler) WithLogger(logger Logger) *RequestEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RequestEmailVerificationHandler) WithClock(clock func() time.Time) *RequestEmailVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RequestEmailVerificationHandler) Execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestEmailVerificationHandler) execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	token := &EphemeralToken{}
	var recipient string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
		}

		if user.EmailVerified {
			return ErrAlreadyVerified
		}

		token = NewEmailVerificationToken(user.ID, h.config.EmailVerificationTTL, h.now())
		if token, err = h.repo.Tokens().IssueTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue verification token")
		}

		recipient = user.Email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "verification request transaction failed")
	}

	dispatch(ctx, h.notifier, h.logger, Notification{
		Channel:   ChannelEmail,
		Kind:      NotificationEmailVerification,
		Recipient: recipient,
		Token:     token.Value,
	})

	return nil
}

type ConfirmEmailVerificationMessage struct {
	Token string `json:"token"`
}

func (e ConfirmEmailVerificationMessage) Type() string { return "email.verification.confirm" }

func (e ConfirmEmailVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
	)
}

// ConfirmEmailVerificationHandler redeems a verification token and flips
// the verified flag. The token is consumed in the same transaction, so a
// replay fails even if two confirmations race.
type ConfirmEmailVerificationHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewConfirmEmailVerificationHandler creates a handler with sane defaults.
func NewConfirmEmailVerificationHandler(repo RepositoryManager) *ConfirmEmailVerificationHandler {
	return &ConfirmEmailVerificationHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *ConfirmEmailVerificationHandler) WithActivitySink(sink ActivitySink) *ConfirmEmailVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ConfirmEmailVerificationHandler) WithLogger(logger Logger) *ConfirmEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *ConfirmEmailVerificationHandler) WithClock(clock func() time.Time) *ConfirmEmailVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *ConfirmEmailVerificationHandler) Execute(ctx context.Context, event ConfirmEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailVerificationHandler) execute(ctx context.Context, event ConfirmEmailVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var userID string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.repo.Tokens().FindValidTx(ctx, tx, event.Token, TokenKindEmailVerification)
		if err != nil {
			return err
		}

		if err := h.repo.Tokens().MarkUsedTx(ctx, tx, token); err != nil {
			return err
		}

		if err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, token.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
		}

		userID = token.UserID.String()
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "verification confirmation failed")
	}

	activityEvent := ActivityEvent{
		EventType:  ActivityEventEmailVerified,
		Actor:      ActorRef{Type: "user", ID: userID},
		UserID:     userID,
		OccurredAt: h.now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, activityEvent); err != nil {
		h.logger.Warn("email verification activity sink error: %v", err)
	}

	return nil
}
