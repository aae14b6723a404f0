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

func TestInitializePasswordResetIssuesTokenForKnownEmail(t *testing.T) {
	userID := uuid.New()

	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "pepe@example.com").
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: true}, nil)

	tokens := &MockTokens{}
	tokens.On("IssueTx", mock.Anything, mock.Anything, mock.AnythingOfType("*credentials.EphemeralToken")).
		Return(&credentials.EphemeralToken{
			UserID: userID,
			Kind:   credentials.TokenKindPasswordReset,
			Value:  "reset-token",
		}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	handler := credentials.NewInitializePasswordResetHandler(repo, credentials.DefaultConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier)

	err := handler.Execute(context.Background(), credentials.InitializePasswordResetMessage{
		Email: "pepe@example.com",
	})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, credentials.NotificationPasswordReset, notifier.sent[0].Kind)
	assert.Equal(t, "pepe@example.com", notifier.sent[0].Recipient)
	assert.Equal(t, "reset-token", notifier.sent[0].Token)
}

func TestInitializePasswordResetHidesUnknownEmail(t *testing.T) {
	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "ghost@example.com").
		Return(nil, credentials.ErrIdentityNotFound)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	handler := credentials.NewInitializePasswordResetHandler(repo, credentials.DefaultConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier)

	err := handler.Execute(context.Background(), credentials.InitializePasswordResetMessage{
		Email: "ghost@example.com",
	})

	assert.NoError(t, err, "the response must not reveal whether the address exists")
	assert.Empty(t, notifier.sent)
}

func TestFinalizePasswordResetReplacesDigestAndRevokesSessions(t *testing.T) {
	userID := uuid.New()
	token := &credentials.EphemeralToken{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   credentials.TokenKindPasswordReset,
		Value:  "reset-token",
	}

	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "reset-token", credentials.TokenKindPasswordReset).
		Return(token, nil)
	tokens.On("MarkUsedTx", mock.Anything, mock.Anything, token).Return(nil)

	users := &MockUsers{}
	users.On("ResetPasswordTx", mock.Anything, mock.Anything, userID, mock.AnythingOfType("string")).
		Return(nil)
	users.On("GetByID", mock.Anything, userID.String()).
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: true}, nil)

	sessions := &MockSessions{}
	sessions.On("RevokeAllTx", mock.Anything, mock.Anything, userID, "").Return(2, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("Sessions").Return(sessions)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	handler := credentials.NewFinalizePasswordResetHandler(repo, credentials.DefaultConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier).
		WithActivitySink(sink)

	err := handler.Execute(context.Background(), credentials.FinalizePasswordResetMessage{
		Token:    "reset-token",
		Password: "brand-new-password",
	})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, credentials.NotificationPasswordChanged, notifier.sent[0].Kind)

	require.Len(t, sink.events, 1)
	assert.Equal(t, credentials.ActivityEventPasswordResetSuccess, sink.events[0].EventType)

	tokens.AssertExpectations(t)
	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestFinalizePasswordResetRejectsInvalidToken(t *testing.T) {
	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "stale-token", credentials.TokenKindPasswordReset).
		Return(nil, credentials.ErrInvalidOrExpiredToken)

	repo := &MockRepositoryManager{}
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	users := &MockUsers{}
	repo.On("Users").Return(users)

	handler := credentials.NewFinalizePasswordResetHandler(repo, credentials.DefaultConfig()).WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.FinalizePasswordResetMessage{
		Token:    "stale-token",
		Password: "brand-new-password",
	})
	assert.ErrorIs(t, err, credentials.ErrInvalidOrExpiredToken)

	users.AssertNumberOfCalls(t, "ResetPasswordTx", 0)
}

func TestFinalizePasswordResetValidatesPassword(t *testing.T) {
	repo := &MockRepositoryManager{}
	handler := credentials.NewFinalizePasswordResetHandler(repo, credentials.DefaultConfig()).WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.FinalizePasswordResetMessage{
		Token:    "reset-token",
		Password: "short",
	})
	require.Error(t, err)

	repo.AssertNumberOfCalls(t, "RunInTx", 0)
}
