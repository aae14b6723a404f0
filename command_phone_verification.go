package credentials

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// NormalizePhone parses a phone number and returns it in E.164 form. The
// default region only applies to numbers without a country prefix.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	if defaultRegion == "" {
		defaultRegion = "US"
	}

	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number").
			WithTextCode(TextCodeDataParseError)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithTextCode(TextCodeDataParseError)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

type RequestPhoneVerificationMessage struct {
	UserID uuid.UUID `json:"user_id"`
	Phone  string    `json:"phone"`
	Region string    `json:"region"`
}

func (e RequestPhoneVerificationMessage) Type() string { return "phone.verification.request" }

func (e RequestPhoneVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Phone, validation.Required),
	)
}

// RequestPhoneVerificationHandler sends a 6 digit OTP to the number being
// claimed. The number rides on the token, not the identity; it is only
// committed once the OTP is redeemed.
type RequestPhoneVerificationHandler struct {
	repo     RepositoryManager
	config   Config
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// NewRequestPhoneVerificationHandler creates a handler with sane defaults.
func NewRequestPhoneVerificationHandler(repo RepositoryManager, config Config) *RequestPhoneVerificationHandler {
	config.Normalize()
	return &RequestPhoneVerificationHandler{
		repo:     repo,
		config:   config,
		notifier: noopNotifier{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithNotifier sets the transport used to deliver the OTP.
func (h *RequestPhoneVerificationHandler) WithNotifier(n Notifier) *RequestPhoneVerificationHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestPhoneVerificationHandler) WithLogger(logger Logger) *RequestPhoneVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RequestPhoneVerificationHandler) WithClock(clock func() time.Time) *RequestPhoneVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RequestPhoneVerificationHandler) Execute(ctx context.Context, event RequestPhoneVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during phone verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestPhoneVerificationHandler) execute(ctx context.Context, event RequestPhoneVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone verification payload")
	}

	phone, err := NormalizePhone(event.Phone, event.Region)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	token := &EphemeralToken{}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByID(ctx, event.UserID.String())
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
		}

		if user.PhoneVerified && user.Phone == phone {
			return ErrAlreadyVerified
		}

		token = NewPhoneOTPToken(user.ID, phone, h.config.PhoneOTPTTL, h.now())
		if token, err = h.repo.Tokens().IssueTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue phone OTP")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "phone verification transaction failed")
	}

	dispatch(ctx, h.notifier, h.logger, Notification{
		Channel:   ChannelSMS,
		Kind:      NotificationPhoneOTP,
		Recipient: phone,
		Token:     token.Value,
	})

	return nil
}

type ConfirmPhoneVerificationMessage struct {
	UserID uuid.UUID `json:"user_id"`
	Code   string    `json:"code"`
}

func (e ConfirmPhoneVerificationMessage) Type() string { return "phone.verification.confirm" }

func (e ConfirmPhoneVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Code, validation.Required, validation.Length(6, 6)),
	)
}

// ConfirmPhoneVerificationHandler redeems the OTP and commits the pending
// phone number to the identity. A code presented by the wrong user burns an
// attempt on the token without consuming it.
type ConfirmPhoneVerificationHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewConfirmPhoneVerificationHandler creates a handler with sane defaults.
func NewConfirmPhoneVerificationHandler(repo RepositoryManager) *ConfirmPhoneVerificationHandler {
	return &ConfirmPhoneVerificationHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *ConfirmPhoneVerificationHandler) WithActivitySink(sink ActivitySink) *ConfirmPhoneVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ConfirmPhoneVerificationHandler) WithLogger(logger Logger) *ConfirmPhoneVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *ConfirmPhoneVerificationHandler) WithClock(clock func() time.Time) *ConfirmPhoneVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *ConfirmPhoneVerificationHandler) Execute(ctx context.Context, event ConfirmPhoneVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during phone verification confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmPhoneVerificationHandler) execute(ctx context.Context, event ConfirmPhoneVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone verification payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var phone string
	var burn *EphemeralToken

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.repo.Tokens().FindValidForUserTx(ctx, tx, event.UserID, event.Code, TokenKindPhoneOTP)
		if err != nil {
			if !goerrors.Is(err, ErrInvalidOrExpiredToken) {
				return err
			}
			// the code may belong to another identity: burn an attempt on
			// that token, but outside this transaction so the rollback on
			// the error return cannot undo the increment
			if other, lookupErr := h.repo.Tokens().FindValidTx(ctx, tx, event.Code, TokenKindPhoneOTP); lookupErr == nil {
				burn = other
			}
			return ErrInvalidOrExpiredToken
		}

		if err := h.repo.Tokens().MarkUsedTx(ctx, tx, token); err != nil {
			return err
		}

		if err := h.repo.Users().CommitPhoneTx(ctx, tx, token.UserID, token.PendingPhone); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to commit phone number")
		}

		phone = token.PendingPhone
		return nil
	})

	if burn != nil {
		if rerr := h.repo.Tokens().RecordAttempt(ctx, burn); rerr != nil {
			h.logger.Warn("failed to record OTP attempt: %v", rerr)
		}
	}

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "phone verification confirmation failed")
	}

	activityEvent := ActivityEvent{
		EventType:  ActivityEventPhoneVerified,
		Actor:      ActorRef{Type: "user", ID: event.UserID.String()},
		UserID:     event.UserID.String(),
		Metadata:   map[string]any{"phone": phone},
		OccurredAt: h.now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, activityEvent); err != nil {
		h.logger.Warn("phone verification activity sink error: %v", err)
	}

	return nil
}
