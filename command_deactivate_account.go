package credentials

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DeactivateAccountMessage struct {
	UserID uuid.UUID `json:"user_id"`
}

func (e DeactivateAccountMessage) Type() string { return "user.deactivate" }

// DeactivateAccountHandler soft deletes the identity and revokes every
// session. The email is mangled with a timestamp marker so the address can
// register again; the original is not recoverable from the record.
type DeactivateAccountHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewDeactivateAccountHandler creates a handler with sane defaults.
func NewDeactivateAccountHandler(repo RepositoryManager) *DeactivateAccountHandler {
	return &DeactivateAccountHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit deactivation events.
func (h *DeactivateAccountHandler) WithActivitySink(sink ActivitySink) *DeactivateAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *DeactivateAccountHandler) WithLogger(logger Logger) *DeactivateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *DeactivateAccountHandler) WithClock(clock func() time.Time) *DeactivateAccountHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *DeactivateAccountHandler) Execute(ctx context.Context, event DeactivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account deactivation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeactivateAccountHandler) execute(ctx context.Context, event DeactivateAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.repo.Users().DeactivateTx(ctx, tx, event.UserID); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deactivate identity")
		}

		if _, err := h.repo.Sessions().RevokeAllTx(ctx, tx, event.UserID, ""); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke active sessions")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account deactivation failed")
	}

	activityEvent := ActivityEvent{
		EventType:  ActivityEventAccountDeactivated,
		Actor:      ActorRef{Type: "user", ID: event.UserID.String()},
		UserID:     event.UserID.String(),
		OccurredAt: h.now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, activityEvent); err != nil {
		h.logger.Warn("deactivation activity sink error: %v", err)
	}

	return nil
}
