package credentials

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RepositoryIdentityStore adapts the bun repositories to the IdentityStore
// interface consumed by the providers and command handlers.
type RepositoryIdentityStore struct {
	repo RepositoryManager
}

// NewRepositoryIdentityStore will create a new RepositoryIdentityStore
func NewRepositoryIdentityStore(repo RepositoryManager) *RepositoryIdentityStore {
	return &RepositoryIdentityStore{repo: repo}
}

func (s *RepositoryIdentityStore) Create(ctx context.Context, user *User) (*User, error) {
	return s.repo.Users().Register(ctx, user)
}

func (s *RepositoryIdentityStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.Users().GetByEmail(ctx, email)
}

func (s *RepositoryIdentityStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.Users().GetByID(ctx, id.String())
}

func (s *RepositoryIdentityStore) TrackAttemptedLogin(ctx context.Context, user *User) (*User, error) {
	return s.repo.Users().TrackAttemptedLogin(ctx, user)
}

func (s *RepositoryIdentityStore) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return s.repo.Users().TrackSuccessfulLogin(ctx, user)
}

func (s *RepositoryIdentityStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.repo.Users().ResetPassword(ctx, id, passwordHash)
}

func (s *RepositoryIdentityStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.repo.Users().MarkEmailVerified(ctx, id)
}

func (s *RepositoryIdentityStore) CommitPhone(ctx context.Context, id uuid.UUID, phone string) error {
	return s.repo.Users().CommitPhone(ctx, id, phone)
}

func (s *RepositoryIdentityStore) SaveTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error {
	return s.repo.Users().SaveTwoFactor(ctx, id, secret, enabled)
}

func (s *RepositoryIdentityStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Users().Deactivate(ctx, id)
}

func (s *RepositoryIdentityStore) ReplaceBackupCodes(ctx context.Context, id uuid.UUID, codes []string) error {
	return s.repo.BackupCodes().Replace(ctx, id, codes)
}

func (s *RepositoryIdentityStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	return s.repo.BackupCodes().Consume(ctx, id, code)
}

// RepositoryTokenLedger adapts the tokens repository to the TokenLedger
// interface.
type RepositoryTokenLedger struct {
	repo RepositoryManager
}

// NewRepositoryTokenLedger will create a new RepositoryTokenLedger
func NewRepositoryTokenLedger(repo RepositoryManager) *RepositoryTokenLedger {
	return &RepositoryTokenLedger{repo: repo}
}

func (l *RepositoryTokenLedger) Issue(ctx context.Context, token *EphemeralToken) (*EphemeralToken, error) {
	return l.repo.Tokens().Issue(ctx, token)
}

func (l *RepositoryTokenLedger) FindValid(ctx context.Context, value string, kind TokenKind) (*EphemeralToken, error) {
	return l.repo.Tokens().FindValid(ctx, value, kind)
}

func (l *RepositoryTokenLedger) FindValidForUser(ctx context.Context, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	return l.repo.Tokens().FindValidForUser(ctx, userID, value, kind)
}

func (l *RepositoryTokenLedger) MarkUsed(ctx context.Context, token *EphemeralToken) error {
	return l.repo.Tokens().MarkUsed(ctx, token)
}

func (l *RepositoryTokenLedger) RecordAttempt(ctx context.Context, token *EphemeralToken) error {
	return l.repo.Tokens().RecordAttempt(ctx, token)
}

func (l *RepositoryTokenLedger) DeleteExpired(ctx context.Context) (int, error) {
	return l.repo.Tokens().DeleteExpired(ctx)
}

// RepositorySessionRegistry adapts the sessions repository to the
// SessionRegistry interface.
type RepositorySessionRegistry struct {
	repo RepositoryManager
}

// NewRepositorySessionRegistry will create a new RepositorySessionRegistry
func NewRepositorySessionRegistry(repo RepositoryManager) *RepositorySessionRegistry {
	return &RepositorySessionRegistry{repo: repo}
}

func (r *RepositorySessionRegistry) Add(ctx context.Context, session *Session) error {
	return r.repo.Sessions().Add(ctx, session)
}

func (r *RepositorySessionRegistry) Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error) {
	return r.repo.Sessions().Rotate(ctx, identityID, oldValue, newValue, expiresAt, device)
}

func (r *RepositorySessionRegistry) Revoke(ctx context.Context, identityID uuid.UUID, value string) error {
	return r.repo.Sessions().Revoke(ctx, identityID, value)
}

func (r *RepositorySessionRegistry) RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error) {
	return r.repo.Sessions().RevokeAll(ctx, identityID, exceptValue)
}

func (r *RepositorySessionRegistry) ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	return r.repo.Sessions().ListActive(ctx, identityID)
}

func (r *RepositorySessionRegistry) DeleteExpired(ctx context.Context) (int, error) {
	return r.repo.Sessions().DeleteExpired(ctx)
}

var (
	_ IdentityStore   = (*RepositoryIdentityStore)(nil)
	_ TokenLedger     = (*RepositoryTokenLedger)(nil)
	_ SessionRegistry = (*RepositorySessionRegistry)(nil)
)
