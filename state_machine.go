package credentials

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidLoginTransition = "INVALID_LOGIN_STATE_TRANSITION"

// ErrInvalidLoginTransition is returned when a login flow step is attempted
// out of order, e.g. completing two-factor before the password check.
var ErrInvalidLoginTransition = goerrors.New("invalid login state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidLoginTransition).
	WithCode(goerrors.CodeBadRequest)

// LoginState is the progression of one authentication attempt.
type LoginState string

const (
	// LoginStateAnonymous is the initial state before any check succeeds.
	LoginStateAnonymous LoginState = "anonymous"
	// LoginStatePasswordChecked means the password matched but a second
	// factor is still outstanding.
	LoginStatePasswordChecked LoginState = "password_checked"
	// LoginStateTwoFactorPending means the intermediate token was handed out
	// and a TOTP or backup code is awaited.
	LoginStateTwoFactorPending LoginState = "two_factor_pending"
	// LoginStateAccessGranted is the terminal success state.
	LoginStateAccessGranted LoginState = "access_granted"
)

// LoginFlowOption customizes login flow construction.
type LoginFlowOption func(*LoginFlow)

// WithLoginFlowClock injects a custom clock (useful for tests).
func WithLoginFlowClock(clock func() time.Time) LoginFlowOption {
	return func(f *LoginFlow) {
		if clock != nil {
			f.now = clock
		}
	}
}

// WithLoginFlowActivitySink sets the ActivitySink used to publish flow events.
func WithLoginFlowActivitySink(sink ActivitySink) LoginFlowOption {
	return func(f *LoginFlow) {
		f.activitySink = normalizeActivitySink(sink)
	}
}

// WithLoginFlowLogger overrides the logger used for sink failures.
func WithLoginFlowLogger(logger Logger) LoginFlowOption {
	return func(f *LoginFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// LoginFlow tracks one authentication attempt through its states and rejects
// out-of-order steps. It carries no credential material itself.
type LoginFlow struct {
	state        LoginState
	userID       string
	startedAt    time.Time
	transitions  map[LoginState]map[LoginState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewLoginFlow returns a flow in the anonymous state.
func NewLoginFlow(userID string, opts ...LoginFlowOption) *LoginFlow {
	f := &LoginFlow{
		state:  LoginStateAnonymous,
		userID: userID,
		transitions: map[LoginState]map[LoginState]struct{}{
			LoginStateAnonymous: {
				LoginStatePasswordChecked: {},
				// magic-link redemption proves mailbox control and therefore
				// skips directly to the terminal state
				LoginStateAccessGranted: {},
			},
			LoginStatePasswordChecked: {
				LoginStateTwoFactorPending: {},
				LoginStateAccessGranted:    {},
			},
			LoginStateTwoFactorPending: {
				LoginStateAccessGranted: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	f.startedAt = f.now()
	return f
}

// State returns the current state.
func (f *LoginFlow) State() LoginState {
	return f.state
}

// StartedAt returns when the flow began.
func (f *LoginFlow) StartedAt() time.Time {
	return f.startedAt
}

// Advance moves the flow to the target state or fails with
// ErrInvalidLoginTransition when the step is out of order.
func (f *LoginFlow) Advance(ctx context.Context, target LoginState) error {
	if target == "" {
		return ErrInvalidLoginTransition.WithMetadata(map[string]any{
			"reason": "target state is empty",
		})
	}

	if f.state == target {
		return nil
	}

	if !f.canTransition(f.state, target) {
		return ErrInvalidLoginTransition.WithMetadata(map[string]any{
			"from": f.state,
			"to":   target,
		})
	}

	from := f.state
	f.state = target

	if target == LoginStateTwoFactorPending {
		f.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventTwoFactorChallenged,
			UserID:    f.userID,
			Metadata:  map[string]any{"from": string(from)},
		})
	}

	return nil
}

func (f *LoginFlow) canTransition(from, to LoginState) bool {
	if allowed, ok := f.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (f *LoginFlow) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = f.now()
	}

	sink := normalizeActivitySink(f.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		f.logger.Warn("login flow activity sink error: %v", err)
	}
}
