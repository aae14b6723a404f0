package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Tokens interface {
	repository.Repository[*EphemeralToken]

	Issue(ctx context.Context, token *EphemeralToken) (*EphemeralToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) (*EphemeralToken, error)
	FindValid(ctx context.Context, value string, kind TokenKind) (*EphemeralToken, error)
	FindValidTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*EphemeralToken, error)
	FindValidForUser(ctx context.Context, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error)
	FindValidForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error)
	MarkUsed(ctx context.Context, token *EphemeralToken) error
	MarkUsedTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) error
	RecordAttempt(ctx context.Context, token *EphemeralToken) error
	RecordAttemptTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) error
	DeleteExpired(ctx context.Context) (int, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int, error)
}

type tokens struct {
	repository.Repository[*EphemeralToken]
	db          *bun.DB
	maxAttempts int
}

var _ Tokens = (*tokens)(nil)

func NewTokensRepository(db *bun.DB, maxAttempts int) Tokens {
	repo := repository.NewRepository[*EphemeralToken](db, repository.ModelHandlers[*EphemeralToken]{
		NewRecord: func() *EphemeralToken { return &EphemeralToken{} },
		GetID: func(t *EphemeralToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *EphemeralToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	if maxAttempts <= 0 {
		maxAttempts = MaxTokenAttempts
	}

	return &tokens{
		Repository:  repo,
		db:          db,
		maxAttempts: maxAttempts,
	}
}

func (a *tokens) Issue(ctx context.Context, token *EphemeralToken) (*EphemeralToken, error) {
	return a.IssueTx(ctx, a.db, token)
}

func (a *tokens) IssueTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) (*EphemeralToken, error) {
	return a.Repository.CreateTx(ctx, tx, token)
}

func (a *tokens) FindValid(ctx context.Context, value string, kind TokenKind) (*EphemeralToken, error) {
	return a.FindValidTx(ctx, a.db, value, kind)
}

// FindValidTx resolves an unused, unexpired token under the attempt cap. It
// never discloses which check failed; everything collapses into
// ErrInvalidOrExpiredToken.
func (a *tokens) FindValidTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*EphemeralToken, error) {
	return a.findValid(ctx, tx, uuid.Nil, value, kind)
}

func (a *tokens) FindValidForUser(ctx context.Context, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	return a.FindValidForUserTx(ctx, a.db, userID, value, kind)
}

// FindValidForUserTx resolves a valid token scoped to its holder. Low-entropy
// values like phone OTPs can repeat across identities, so consumption paths
// must look up by (user, value, kind) rather than value alone.
func (a *tokens) FindValidForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	return a.findValid(ctx, tx, userID, value, kind)
}

func (a *tokens) findValid(ctx context.Context, tx bun.IDB, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	record := &EphemeralToken{}
	q := tx.NewSelect().
		Model(record).
		Where(`?TableAlias."value" = ?`, value).
		Where(`?TableAlias."kind" = ?`, kind).
		Where(`?TableAlias."used" = FALSE`).
		Where(`?TableAlias."expires_at" > ?`, time.Now()).
		Where(`?TableAlias."attempts" < ?`, a.maxAttempts)

	if userID != uuid.Nil {
		q = q.Where(`?TableAlias."user_id" = ?`, userID)
	}

	err := q.Limit(1).Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	return record, nil
}

func (a *tokens) MarkUsed(ctx context.Context, token *EphemeralToken) error {
	return a.MarkUsedTx(ctx, a.db, token)
}

// MarkUsedTx consumes the token exactly once. The conditional update targets
// the specific row and only matches it unused, so a concurrent second
// redemption sees zero rows and fails with ErrTokenAlreadyUsed.
func (a *tokens) MarkUsedTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) error {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*EphemeralToken)(nil)).
		Set(`"used" = TRUE`).
		Set(`"used_at" = ?`, now).
		Where(`"id" = ?`, token.ID).
		Where(`"used" = FALSE`).
		Exec(ctx)

	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenAlreadyUsed
	}

	token.Used = true
	token.UsedAt = &now
	return nil
}

func (a *tokens) RecordAttempt(ctx context.Context, token *EphemeralToken) error {
	return a.RecordAttemptTx(ctx, a.db, token)
}

func (a *tokens) RecordAttemptTx(ctx context.Context, tx bun.IDB, token *EphemeralToken) error {
	_, err := tx.NewUpdate().
		Model((*EphemeralToken)(nil)).
		Set(`"attempts" = "attempts" + 1`).
		Where(`"id" = ?`, token.ID).
		Exec(ctx)
	return err
}

func (a *tokens) DeleteExpired(ctx context.Context) (int, error) {
	return a.DeleteExpiredTx(ctx, a.db)
}

func (a *tokens) DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int, error) {
	res, err := tx.NewDelete().
		Model((*EphemeralToken)(nil)).
		WhereOr(`"used" = TRUE`).
		WhereOr(`"expires_at" <= ?`, time.Now()).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
