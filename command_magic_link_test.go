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

func TestRequestMagicLinkSendsSingleUseLink(t *testing.T) {
	userID := uuid.New()

	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "pepe@example.com").
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: true}, nil)

	tokens := &MockTokens{}
	tokens.On("IssueTx", mock.Anything, mock.Anything, mock.AnythingOfType("*credentials.EphemeralToken")).
		Run(func(args mock.Arguments) {
			issued := args.Get(2).(*credentials.EphemeralToken)
			assert.Equal(t, credentials.TokenKindMagicLink, issued.Kind)
		}).
		Return(&credentials.EphemeralToken{
			UserID: userID,
			Kind:   credentials.TokenKindMagicLink,
			Value:  "link-token",
		}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	handler := credentials.NewRequestMagicLinkHandler(repo, credentials.DefaultConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier)

	err := handler.Execute(context.Background(), credentials.RequestMagicLinkMessage{
		Email: "pepe@example.com",
	})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, credentials.NotificationMagicLink, notifier.sent[0].Kind)
	assert.Equal(t, "link-token", notifier.sent[0].Token)
}

func TestRequestMagicLinkHidesUnknownEmail(t *testing.T) {
	users := &MockUsers{}
	users.On("GetByEmailTx", mock.Anything, mock.Anything, "ghost@example.com").
		Return(nil, credentials.ErrIdentityNotFound)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	notifier := &recordingNotifier{}
	handler := credentials.NewRequestMagicLinkHandler(repo, credentials.DefaultConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier)

	err := handler.Execute(context.Background(), credentials.RequestMagicLinkMessage{
		Email: "ghost@example.com",
	})

	assert.NoError(t, err)
	assert.Empty(t, notifier.sent)
}

func TestRedeemMagicLinkGrantsSessionAndVerifiesEmail(t *testing.T) {
	userID := uuid.New()
	token := &credentials.EphemeralToken{
		ID:     uuid.New(),
		UserID: userID,
		Kind:   credentials.TokenKindMagicLink,
		Value:  "link-token",
	}

	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "link-token", credentials.TokenKindMagicLink).
		Return(token, nil)
	tokens.On("MarkUsedTx", mock.Anything, mock.Anything, token).Return(nil)

	users := &MockUsers{}
	users.On("GetByID", mock.Anything, userID.String()).
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: true}, nil)
	users.On("MarkEmailVerifiedTx", mock.Anything, mock.Anything, userID).Return(nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	authenticator, grantStore := newGrantAuthenticator()
	_, err := grantStore.Create(context.Background(), &credentials.User{
		ID:     userID,
		Email:  "pepe@example.com",
		Active: true,
	})
	require.NoError(t, err)

	var granted *credentials.LoginResult
	handler := credentials.NewRedeemMagicLinkHandler(repo, authenticator).
		WithLogger(testLogger{}).
		WithOnResponse(func(ctx context.Context, res *credentials.LoginResult) error {
			granted = res
			return nil
		})

	err = handler.Execute(context.Background(), credentials.RedeemMagicLinkMessage{
		Token:  "link-token",
		Device: "laptop",
	})
	require.NoError(t, err)

	require.NotNil(t, granted)
	assert.NotEmpty(t, granted.AccessToken)
	assert.NotEmpty(t, granted.RefreshToken)
	assert.False(t, granted.TwoFactorRequired, "mailbox control stands in for the second factor")

	// redemption completes a login, so it stamps last login like the
	// password tail does
	stamped, err := grantStore.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, stamped.LastLoginAt)

	tokens.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestRedeemMagicLinkSkipsVerificationWhenAlreadyVerified(t *testing.T) {
	userID := uuid.New()
	token := &credentials.EphemeralToken{
		UserID: userID,
		Kind:   credentials.TokenKindMagicLink,
		Value:  "link-token",
	}

	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "link-token", credentials.TokenKindMagicLink).
		Return(token, nil)
	tokens.On("MarkUsedTx", mock.Anything, mock.Anything, token).Return(nil)

	users := &MockUsers{}
	users.On("GetByID", mock.Anything, userID.String()).
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: true, EmailVerified: true}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	handler := credentials.NewRedeemMagicLinkHandler(repo, mustGrantAuthenticator()).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RedeemMagicLinkMessage{Token: "link-token"})
	require.NoError(t, err)

	users.AssertNumberOfCalls(t, "MarkEmailVerifiedTx", 0)
}

func TestRedeemMagicLinkRejectsSpentToken(t *testing.T) {
	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "spent-token", credentials.TokenKindMagicLink).
		Return(nil, credentials.ErrInvalidOrExpiredToken)

	repo := &MockRepositoryManager{}
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	handler := credentials.NewRedeemMagicLinkHandler(repo, mustGrantAuthenticator()).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RedeemMagicLinkMessage{Token: "spent-token"})
	assert.ErrorIs(t, err, credentials.ErrInvalidOrExpiredToken)
}

func TestRedeemMagicLinkRejectsDeactivatedUser(t *testing.T) {
	userID := uuid.New()
	token := &credentials.EphemeralToken{
		UserID: userID,
		Kind:   credentials.TokenKindMagicLink,
		Value:  "link-token",
	}

	tokens := &MockTokens{}
	tokens.On("FindValidTx", mock.Anything, mock.Anything, "link-token", credentials.TokenKindMagicLink).
		Return(token, nil)

	users := &MockUsers{}
	users.On("GetByID", mock.Anything, userID.String()).
		Return(&credentials.User{ID: userID, Email: "pepe@example.com", Active: false}, nil)

	repo := &MockRepositoryManager{}
	repo.On("Users").Return(users)
	repo.On("Tokens").Return(tokens)
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)

	handler := credentials.NewRedeemMagicLinkHandler(repo, mustGrantAuthenticator()).
		WithLogger(testLogger{})

	err := handler.Execute(context.Background(), credentials.RedeemMagicLinkMessage{Token: "link-token"})
	assert.ErrorIs(t, err, credentials.ErrInvalidOrExpiredToken)

	tokens.AssertNumberOfCalls(t, "MarkUsedTx", 0)
}
