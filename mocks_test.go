package credentials_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-credentials"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// MockRepositoryManager runs transaction closures with a zero bun.Tx so
// handlers can be exercised without a database.
type MockRepositoryManager struct {
	mock.Mock
}

func (m *MockRepositoryManager) Validate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepositoryManager) MustValidate() {
	m.Called()
}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, f)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	var tx bun.Tx
	return f(ctx, tx)
}

func (m *MockRepositoryManager) Users() credentials.Users {
	args := m.Called()
	return args.Get(0).(credentials.Users)
}

func (m *MockRepositoryManager) Tokens() credentials.Tokens {
	args := m.Called()
	return args.Get(0).(credentials.Tokens)
}

func (m *MockRepositoryManager) Sessions() credentials.Sessions {
	args := m.Called()
	return args.Get(0).(credentials.Sessions)
}

func (m *MockRepositoryManager) BackupCodes() credentials.BackupCodes {
	args := m.Called()
	return args.Get(0).(credentials.BackupCodes)
}

// MockUsers embeds the interface so only the methods a test expects need
// stubbing; anything else panics loudly.
type MockUsers struct {
	credentials.Users
	mock.Mock
}

func (m *MockUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *credentials.User) (*credentials.User, error) {
	args := m.Called(ctx, tx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.User), args.Error(1)
}

func (m *MockUsers) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*credentials.User, error) {
	args := m.Called(ctx, tx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.User), args.Error(1)
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*credentials.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.User), args.Error(1)
}

func (m *MockUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUsers) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockUsers) CommitPhoneTx(ctx context.Context, tx bun.IDB, id uuid.UUID, phone string) error {
	args := m.Called(ctx, tx, id, phone)
	return args.Error(0)
}

func (m *MockUsers) DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

type MockTokens struct {
	credentials.Tokens
	mock.Mock
}

func (m *MockTokens) IssueTx(ctx context.Context, tx bun.IDB, token *credentials.EphemeralToken) (*credentials.EphemeralToken, error) {
	args := m.Called(ctx, tx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.EphemeralToken), args.Error(1)
}

func (m *MockTokens) FindValidTx(ctx context.Context, tx bun.IDB, value string, kind credentials.TokenKind) (*credentials.EphemeralToken, error) {
	args := m.Called(ctx, tx, value, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.EphemeralToken), args.Error(1)
}

func (m *MockTokens) FindValidForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, value string, kind credentials.TokenKind) (*credentials.EphemeralToken, error) {
	args := m.Called(ctx, tx, userID, value, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.EphemeralToken), args.Error(1)
}

func (m *MockTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, token *credentials.EphemeralToken) error {
	args := m.Called(ctx, tx, token)
	return args.Error(0)
}

func (m *MockTokens) RecordAttempt(ctx context.Context, token *credentials.EphemeralToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokens) RecordAttemptTx(ctx context.Context, tx bun.IDB, token *credentials.EphemeralToken) error {
	args := m.Called(ctx, tx, token)
	return args.Error(0)
}

type MockSessions struct {
	credentials.Sessions
	mock.Mock
}

func (m *MockSessions) RevokeAllTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, exceptValue string) (int, error) {
	args := m.Called(ctx, tx, identityID, exceptValue)
	return args.Int(0), args.Error(1)
}

// recordingNotifier captures outbound notifications for assertions.
type recordingNotifier struct {
	sent []credentials.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n credentials.Notification) (string, error) {
	r.sent = append(r.sent, n)
	return "delivery-" + n.Recipient, nil
}

// recordingSink captures activity events for assertions.
type recordingSink struct {
	events []credentials.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event credentials.ActivityEvent) error {
	r.events = append(r.events, event)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// newGrantAuthenticator builds an Authenticator over in-memory stores for
// handler tests that only need GrantSession to work. The backing identity
// store is returned so tests can seed users and inspect login stamps.
func newGrantAuthenticator() (*credentials.Authenticator, *credentials.MemoryIdentityStore) {
	cfg := credentials.DefaultConfig()
	cfg.SigningKey = "test-signing-key"

	store := credentials.NewMemoryIdentityStore()
	provider := credentials.NewCredentialProvider(store, cfg)
	twoFactor := credentials.NewTwoFactorManager(store, cfg.Issuer)

	auth := credentials.NewAuthenticator(provider, store, credentials.NewMemorySessionRegistry(), twoFactor, cfg).
		WithLogger(testLogger{})
	return auth, store
}

// mustGrantAuthenticator is for tests that never look at the identity store.
func mustGrantAuthenticator() *credentials.Authenticator {
	auth, _ := newGrantAuthenticator()
	return auth
}
