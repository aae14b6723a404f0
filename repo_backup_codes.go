package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BackupCodes interface {
	repository.Repository[*BackupCode]

	Replace(ctx context.Context, userID uuid.UUID, codes []string) error
	ReplaceTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, codes []string) error
	Consume(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, code string) (bool, error)
}

type backupCodes struct {
	repository.Repository[*BackupCode]
	db *bun.DB
}

var _ BackupCodes = (*backupCodes)(nil)

func NewBackupCodesRepository(db *bun.DB) BackupCodes {
	repo := repository.NewRepository[*BackupCode](db, repository.ModelHandlers[*BackupCode]{
		NewRecord: func() *BackupCode { return &BackupCode{} },
		GetID: func(c *BackupCode) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *BackupCode, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
	})

	return &backupCodes{
		Repository: repo,
		db:         db,
	}
}

func (a *backupCodes) Replace(ctx context.Context, userID uuid.UUID, codes []string) error {
	return a.ReplaceTx(ctx, a.db, userID, codes)
}

// ReplaceTx drops the whole set and inserts the new batch, so stale codes
// from a previous batch can never be redeemed.
func (a *backupCodes) ReplaceTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, codes []string) error {
	if _, err := tx.NewDelete().
		Model((*BackupCode)(nil)).
		Where(`"user_id" = ?`, userID).
		Exec(ctx); err != nil {
		return err
	}

	if len(codes) == 0 {
		return nil
	}

	records := make([]BackupCode, 0, len(codes))
	for _, code := range codes {
		records = append(records, BackupCode{
			ID:     uuid.New(),
			UserID: userID,
			Code:   code,
		})
	}

	_, err := tx.NewInsert().Model(&records).Exec(ctx)
	return err
}

func (a *backupCodes) Consume(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	return a.ConsumeTx(ctx, a.db, userID, code)
}

// ConsumeTx burns a matching unused code. The conditional update gives the
// same exactly-once behavior as token redemption: a second redemption of
// the same code matches zero rows.
func (a *backupCodes) ConsumeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, code string) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*BackupCode)(nil)).
		Set(`"used" = TRUE`).
		Set(`"used_at" = ?`, time.Now()).
		Where(`"user_id" = ?`, userID).
		Where(`"code" = ?`, code).
		Where(`"used" = FALSE`).
		Exec(ctx)

	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
