package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Sessions interface {
	repository.Repository[*Session]

	Add(ctx context.Context, session *Session) error
	AddTx(ctx context.Context, tx bun.IDB, session *Session) error
	Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error)
	RotateTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error)
	Revoke(ctx context.Context, identityID uuid.UUID, value string) error
	RevokeTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, value string) error
	RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error)
	RevokeAllTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, exceptValue string) (int, error)
	ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error)
	ListActiveTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]Session, error)
	DeleteExpired(ctx context.Context) (int, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int, error)
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (a *sessions) Add(ctx context.Context, session *Session) error {
	return a.AddTx(ctx, a.db, session)
}

func (a *sessions) AddTx(ctx context.Context, tx bun.IDB, session *Session) error {
	_, err := a.Repository.CreateTx(ctx, tx, session)
	return err
}

func (a *sessions) Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error) {
	return a.RotateTx(ctx, a.db, identityID, oldValue, newValue, expiresAt, device)
}

// RotateTx swaps the credential value in place. The conditional update is
// the compare step of the swap: it only matches the row still holding
// oldValue and not yet expired, so two concurrent refreshes of the same
// credential cannot both succeed.
func (a *sessions) RotateTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error) {
	q := tx.NewUpdate().
		Model((*Session)(nil)).
		Set(`"value" = ?`, newValue).
		Set(`"expires_at" = ?`, expiresAt).
		Where(`"user_id" = ?`, identityID).
		Where(`"value" = ?`, oldValue).
		Where(`"expires_at" > ?`, time.Now())

	if device != "" {
		q = q.Set(`"device" = ?`, device)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (a *sessions) Revoke(ctx context.Context, identityID uuid.UUID, value string) error {
	return a.RevokeTx(ctx, a.db, identityID, value)
}

// RevokeTx deletes one session. Deleting a value that is not registered is
// not an error; the end state is the same.
func (a *sessions) RevokeTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, value string) error {
	_, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where(`"user_id" = ?`, identityID).
		Where(`"value" = ?`, value).
		Exec(ctx)
	return err
}

func (a *sessions) RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error) {
	return a.RevokeAllTx(ctx, a.db, identityID, exceptValue)
}

func (a *sessions) RevokeAllTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, exceptValue string) (int, error) {
	q := tx.NewDelete().
		Model((*Session)(nil)).
		Where(`"user_id" = ?`, identityID)

	if exceptValue != "" {
		q = q.Where(`"value" != ?`, exceptValue)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (a *sessions) ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	return a.ListActiveTx(ctx, a.db, identityID)
}

func (a *sessions) ListActiveTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]Session, error) {
	records := []Session{}
	err := tx.NewSelect().
		Model(&records).
		Where(`?TableAlias."user_id" = ?`, identityID).
		Where(`?TableAlias."expires_at" > ?`, time.Now()).
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *sessions) DeleteExpired(ctx context.Context) (int, error) {
	return a.DeleteExpiredTx(ctx, a.db)
}

func (a *sessions) DeleteExpiredTx(ctx context.Context, tx bun.IDB) (int, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where(`"expires_at" <= ?`, time.Now()).
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
