package credentials

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Tokens() Tokens
	Sessions() Sessions
	BackupCodes() BackupCodes
}

type mngr struct {
	db          *bun.DB
	users       Users
	tokens      Tokens
	sessions    Sessions
	backupCodes BackupCodes
}

func NewRepositoryManager(db *bun.DB, config Config) RepositoryManager {
	config.Normalize()
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		tokens:      NewTokensRepository(db, config.TokenMaxAttempts),
		sessions:    NewSessionsRepository(db),
		backupCodes: NewBackupCodesRepository(db),
	}
}

// OpenDatabase opens a SQLite backed bun.DB for the given DSN, e.g.
// "file::memory:?cache=shared" or a file path.
func OpenDatabase(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.backupCodes == nil {
		return errors.New("repository backupCodes should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Tokens() Tokens {
	return m.tokens
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) BackupCodes() BackupCodes {
	return m.backupCodes
}
