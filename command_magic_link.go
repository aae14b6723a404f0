package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RequestMagicLinkMessage struct {
	Email string `json:"email"`
}

func (e RequestMagicLinkMessage) Type() string { return "login.magic_link.request" }

func (e RequestMagicLinkMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// RequestMagicLinkHandler issues a single-use login link. Like the password
// reset request, it succeeds for unknown emails so the response never
// reveals which addresses exist.
type RequestMagicLinkHandler struct {
	repo     RepositoryManager
	config   Config
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// NewRequestMagicLinkHandler creates a handler with sane defaults.
func NewRequestMagicLinkHandler(repo RepositoryManager, config Config) *RequestMagicLinkHandler {
	config.Normalize()
	return &RequestMagicLinkHandler{
		repo:     repo,
		config:   config,
		notifier: noopNotifier{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithNotifier sets the transport used to deliver the link.
func (h *RequestMagicLinkHandler) WithNotifier(n Notifier) *RequestMagicLinkHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestMagicLinkHandler) WithLogger(logger Logger) *RequestMagicLinkHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RequestMagicLinkHandler) WithClock(clock func() time.Time) *RequestMagicLinkHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RequestMagicLinkHandler) Execute(ctx context.Context, event RequestMagicLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during magic link request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestMagicLinkHandler) execute(ctx context.Context, event RequestMagicLinkMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid magic link payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	token := &EphemeralToken{}
	var recipient string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.IsNotFound(err) {
				h.logger.Info("magic link requested for unregistered email")
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
		}

		if !user.Active {
			return nil
		}

		token = NewMagicLinkToken(user.ID, h.config.MagicLinkTTL, h.now())
		if token, err = h.repo.Tokens().IssueTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue magic link token")
		}

		recipient = user.Email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "magic link transaction failed")
	}

	if recipient != "" {
		dispatch(ctx, h.notifier, h.logger, Notification{
			Channel:   ChannelEmail,
			Kind:      NotificationMagicLink,
			Recipient: recipient,
			Token:     token.Value,
		})
	}

	return nil
}

type RedeemMagicLinkMessage struct {
	Token  string `json:"token"`
	Device string `json:"device"`
}

func (e RedeemMagicLinkMessage) Type() string { return "login.magic_link.redeem" }

func (e RedeemMagicLinkMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
	)
}

// RedeemMagicLinkHandler exchanges a valid link token for a session.
// Redemption proves control of the mailbox, so the email is marked verified
// as a side effect and the two-factor challenge is not raised. The token is
// consumed exactly once; replaying it fails.
type RedeemMagicLinkHandler struct {
	repo          RepositoryManager
	authenticator *Authenticator
	logger        Logger
	onResponse    func(ctx context.Context, res *LoginResult) error
}

// NewRedeemMagicLinkHandler creates a handler with sane defaults.
func NewRedeemMagicLinkHandler(repo RepositoryManager, authenticator *Authenticator) *RedeemMagicLinkHandler {
	return &RedeemMagicLinkHandler{
		repo:          repo,
		authenticator: authenticator,
		logger:        defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *RedeemMagicLinkHandler) WithLogger(logger Logger) *RedeemMagicLinkHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithOnResponse registers a callback receiving the granted session.
func (h *RedeemMagicLinkHandler) WithOnResponse(fn func(ctx context.Context, res *LoginResult) error) *RedeemMagicLinkHandler {
	h.onResponse = fn
	return h
}

func (h *RedeemMagicLinkHandler) Execute(ctx context.Context, event RedeemMagicLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during magic link redemption",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RedeemMagicLinkHandler) execute(ctx context.Context, event RedeemMagicLinkMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid magic link payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.repo.Tokens().FindValidTx(ctx, tx, event.Token, TokenKindMagicLink)
		if err != nil {
			return err
		}

		if user, err = h.repo.Users().GetByID(ctx, token.UserID.String()); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrInvalidOrExpiredToken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user for magic link")
		}

		if !user.Active {
			return ErrInvalidOrExpiredToken
		}

		if err := h.repo.Tokens().MarkUsedTx(ctx, tx, token); err != nil {
			return err
		}

		if !user.EmailVerified {
			if err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, user.ID); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
			}
			user.EmailVerified = true
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "magic link redemption failed")
	}

	session, err := h.authenticator.GrantSession(ctx, user, event.Device)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to grant session")
	}

	if h.onResponse != nil {
		return h.onResponse(ctx, session)
	}

	return nil
}
