package credentials

import "context"

// Channel selects the delivery medium for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationKind names what is being delivered, so a transport can pick
// the right template without inspecting the payload.
type NotificationKind string

const (
	NotificationEmailVerification NotificationKind = "email_verification"
	NotificationPasswordReset     NotificationKind = "password_reset"
	NotificationMagicLink         NotificationKind = "magic_link"
	NotificationPhoneOTP          NotificationKind = "phone_otp"
	NotificationPasswordChanged   NotificationKind = "password_changed"
)

// Notification is one outbound message. Token carries the raw token value
// or OTP code; the transport decides how to embed it.
type Notification struct {
	Channel   Channel
	Kind      NotificationKind
	Recipient string
	Token     string
	Metadata  map[string]any
}

// Notifier delivers notifications out of band. Send returns a transport
// delivery id for correlation.
type Notifier interface {
	Send(ctx context.Context, n Notification) (string, error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) (string, error)

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, n Notification) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, Notification) (string, error) {
	return "", nil
}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

// dispatch delivers best effort: a transport failure is logged and swallowed
// so credential state changes never roll back on a mail or SMS outage.
func dispatch(ctx context.Context, notifier Notifier, logger Logger, n Notification) {
	if _, err := normalizeNotifier(notifier).Send(ctx, n); err != nil {
		logger.Error("notification delivery failed kind=%s channel=%s: %v", n.Kind, n.Channel, err)
	}
}
