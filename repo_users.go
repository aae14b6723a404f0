package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"password_changed_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var DeactivateUserSQL = `UPDATE "users" AS "usr"
SET
	"is_active" = FALSE,
	"email" = ?,
	"deleted_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User) (*User, error)
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	CommitPhone(ctx context.Context, id uuid.UUID, phone string) error
	CommitPhoneTx(ctx context.Context, tx bun.IDB, id uuid.UUID, phone string) error
	SaveTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error
	SaveTwoFactorTx(ctx context.Context, tx bun.IDB, id uuid.UUID, secret string, enabled bool) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	user.Email = NormalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = RoleUser
	}
	user.Active = true
	return a.Repository.CreateTx(ctx, tx, user)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(`?TableAlias."email" = ?`, NormalizeEmail(email)).
		Where(`?TableAlias."deleted_at" IS NULL`).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) (*User, error) {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// nullable lockout fields when the amnesty path clears them.
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"login_attempts" = ?,
			"is_locked" = ?,
			"lock_expires_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, user.LoginAttempts, user.Locked, user.LockExpiresAt, user.ID).Exec(ctx)

	if err != nil {
		return nil, err
	}

	return user, nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"last_login_at" = ?,
			"login_attempts" = 0,
			"is_locked" = FALSE,
			"lock_expires_at" = NULL
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, loggedInAt, user.ID).Exec(ctx)

	return err
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetUserPasswordSQL, passwordHash, time.Now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return a.MarkEmailVerifiedTx(ctx, a.db, id)
}

func (a *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET "is_email_verified" = TRUE
		WHERE ("usr".id = ?) AND "usr"."deleted_at" IS NULL;
	`, id).Exec(ctx)
	return err
}

func (a *users) CommitPhone(ctx context.Context, id uuid.UUID, phone string) error {
	return a.CommitPhoneTx(ctx, a.db, id, phone)
}

func (a *users) CommitPhoneTx(ctx context.Context, tx bun.IDB, id uuid.UUID, phone string) error {
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"phone_number" = ?,
			"is_phone_verified" = TRUE
		WHERE ("usr".id = ?) AND "usr"."deleted_at" IS NULL;
	`, phone, id).Exec(ctx)
	return err
}

func (a *users) SaveTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error {
	return a.SaveTwoFactorTx(ctx, a.db, id, secret, enabled)
}

func (a *users) SaveTwoFactorTx(ctx context.Context, tx bun.IDB, id uuid.UUID, secret string, enabled bool) error {
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"two_factor_secret" = ?,
			"two_factor_enabled" = ?
		WHERE ("usr".id = ?) AND "usr"."deleted_at" IS NULL;
	`, secret, enabled, id).Exec(ctx)
	return err
}

func (a *users) Deactivate(ctx context.Context, id uuid.UUID) error {
	return a.DeactivateTx(ctx, a.db, id)
}

// DeactivateTx soft deletes the record and mangles the email so the unique
// slot can be registered again.
func (a *users) DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	user, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return err
	}

	now := time.Now()
	res, err := a.Repository.RawTx(ctx, tx, DeactivateUserSQL, user.MangledEmail(now), now, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}
