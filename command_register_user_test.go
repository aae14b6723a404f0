package credentials_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/goliatone/go-credentials"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegisterUserMessageType(t *testing.T) {
	assert.Equal(t, "user.register", credentials.RegisterUserMessage{}.Type())
}

func TestRegisterUserHandlerCreatesIdentityAndGrantsSession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "new@example.com").
		Return(nil, credentials.ErrIdentityNotFound)
	users.On("RegisterTx", mock.Anything, mock.Anything, mock.AnythingOfType("*credentials.User")).
		Return(&credentials.User{
			ID:     userID,
			Email:  "new@example.com",
			Role:   credentials.RoleUser,
			Active: true,
		}, nil)

	tokens := &MockTokens{}
	tokens.On("IssueTx", mock.Anything, mock.Anything, mock.AnythingOfType("*credentials.EphemeralToken")).
		Return(&credentials.EphemeralToken{
			UserID: userID,
			Kind:   credentials.TokenKindEmailVerification,
			Value:  "verify-token",
		}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	var captured credentials.RegisterUserResult

	cfg := credentials.DefaultConfig()
	cfg.SigningKey = "test-signing-key"

	handler := credentials.NewRegisterUserHandler(repo, mustGrantAuthenticator(), cfg).
		WithLogger(testLogger{}).
		WithNotifier(notifier).
		WithActivitySink(sink).
		WithOnResponse(func(ctx context.Context, res credentials.RegisterUserResult) error {
			captured = res
			return nil
		})

	err := handler.Execute(ctx, credentials.RegisterUserMessage{
		FirstName: "Pepe",
		LastName:  "Rone",
		Email:     "new@example.com",
		Password:  "super-secret-pass",
		Device:    "laptop",
	})
	require.NoError(t, err)

	require.NotNil(t, captured.User)
	assert.Equal(t, userID, captured.User.ID)
	require.NotNil(t, captured.Session)
	assert.NotEmpty(t, captured.Session.AccessToken)
	assert.NotEmpty(t, captured.Session.RefreshToken)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, credentials.NotificationEmailVerification, notifier.sent[0].Kind)
	assert.Equal(t, "new@example.com", notifier.sent[0].Recipient)
	assert.Equal(t, "verify-token", notifier.sent[0].Token)

	require.Len(t, sink.events, 1)
	assert.Equal(t, credentials.ActivityEventRegistration, sink.events[0].EventType)

	repo.AssertExpectations(t)
	users.AssertExpectations(t)
	tokens.AssertExpectations(t)
}

func TestRegisterUserHandlerRejectsDuplicateEmail(t *testing.T) {
	existingID := uuid.New()

	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "taken@example.com").
		Return(&credentials.User{ID: existingID, Email: "taken@example.com"}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	cfg := credentials.DefaultConfig()
	cfg.SigningKey = "test-signing-key"

	handler := credentials.NewRegisterUserHandler(repo, mustGrantAuthenticator(), cfg).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RegisterUserMessage{
		FirstName: "Pepe",
		LastName:  "Rone",
		Email:     "taken@example.com",
		Password:  "super-secret-pass",
	})
	assert.ErrorIs(t, err, credentials.ErrDuplicateIdentity)

	users.AssertNumberOfCalls(t, "RegisterTx", 0)
}

func TestRegisterUserHandlerValidatesPayload(t *testing.T) {
	repo := &MockRepositoryManager{}

	cfg := credentials.DefaultConfig()
	cfg.SigningKey = "test-signing-key"

	handler := credentials.NewRegisterUserHandler(repo, mustGrantAuthenticator(), cfg).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RegisterUserMessage{
		FirstName: "Pepe",
		LastName:  "Rone",
		Email:     "not-an-email",
		Password:  "short",
	})
	require.Error(t, err)

	repo.AssertNumberOfCalls(t, "RunInTx", 0)
}

func TestRegisterUserHandlerHashidYieldsStableID(t *testing.T) {
	var gotUser *credentials.User

	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "stable@example.com").
		Return(nil, credentials.ErrIdentityNotFound)
	users.On("RegisterTx", mock.Anything, mock.Anything, mock.AnythingOfType("*credentials.User")).
		Run(func(args mock.Arguments) {
			gotUser = args.Get(2).(*credentials.User)
		}).
		Return(&credentials.User{ID: uuid.New(), Email: "stable@example.com"}, nil)

	tokens := &MockTokens{}
	tokens.On("IssueTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&credentials.EphemeralToken{Value: "verify-token"}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	cfg := credentials.DefaultConfig()
	cfg.SigningKey = "test-signing-key"

	handler := credentials.NewRegisterUserHandler(repo, mustGrantAuthenticator(), cfg).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RegisterUserMessage{
		FirstName: "Pepe",
		LastName:  "Rone",
		Email:     "stable@example.com",
		Password:  "super-secret-pass",
		UseHashid: true,
	})
	require.NoError(t, err)

	require.NotNil(t, gotUser)
	assert.NotEqual(t, uuid.Nil, gotUser.ID, "hashid derivation pre-assigns the ID")
}
