package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryIdentityStore is an IdentityStore held entirely in memory. Useful
// for tests and single-process deployments; state does not survive restarts.
type MemoryIdentityStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
	backup  map[uuid.UUID][]*BackupCode
	now     func() time.Time
}

// NewMemoryIdentityStore will create a new MemoryIdentityStore
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:    map[uuid.UUID]*User{},
		byEmail: map[string]uuid.UUID{},
		backup:  map[uuid.UUID][]*BackupCode{},
		now:     time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (s *MemoryIdentityStore) WithClock(clock func() time.Time) *MemoryIdentityStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *MemoryIdentityStore) Create(ctx context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, taken := s.byEmail[email]; taken {
		return nil, ErrDuplicateIdentity
	}

	cp := *user
	cp.Email = email
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Role == "" {
		cp.Role = RoleUser
	}
	now := s.now()
	cp.CreatedAt = &now
	cp.UpdatedAt = &now

	s.byID[cp.ID] = &cp
	s.byEmail[email] = cp.ID

	out := cp
	return &out, nil
}

func (s *MemoryIdentityStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryIdentityStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryIdentityStore) TrackAttemptedLogin(ctx context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[user.ID]
	if !ok {
		return nil, ErrIdentityNotFound
	}

	stored.LoginAttempts = user.LoginAttempts
	stored.Locked = user.Locked
	stored.LockExpiresAt = user.LockExpiresAt
	s.touch(stored)

	cp := *stored
	return &cp, nil
}

func (s *MemoryIdentityStore) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[user.ID]
	if !ok {
		return ErrIdentityNotFound
	}

	now := s.now()
	stored.LoginAttempts = 0
	stored.Locked = false
	stored.LockExpiresAt = nil
	stored.LastLoginAt = &now
	s.touch(stored)
	return nil
}

func (s *MemoryIdentityStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.update(id, func(u *User) {
		now := s.now()
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &now
	})
}

func (s *MemoryIdentityStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.update(id, func(u *User) {
		u.EmailVerified = true
	})
}

func (s *MemoryIdentityStore) CommitPhone(ctx context.Context, id uuid.UUID, phone string) error {
	return s.update(id, func(u *User) {
		u.Phone = phone
		u.PhoneVerified = true
	})
}

func (s *MemoryIdentityStore) SaveTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error {
	return s.update(id, func(u *User) {
		u.TwoFactorSecret = secret
		u.TwoFactorEnabled = enabled
	})
}

func (s *MemoryIdentityStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}

	now := s.now()
	delete(s.byEmail, stored.Email)
	stored.Email = stored.MangledEmail(now)
	stored.Active = false
	stored.DeletedAt = &now
	s.byEmail[stored.Email] = stored.ID
	s.touch(stored)
	return nil
}

func (s *MemoryIdentityStore) ReplaceBackupCodes(ctx context.Context, id uuid.UUID, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrIdentityNotFound
	}

	next := make([]*BackupCode, 0, len(codes))
	for _, code := range codes {
		next = append(next, &BackupCode{ID: uuid.New(), UserID: id, Code: code})
	}
	s.backup[id] = next
	return nil
}

func (s *MemoryIdentityStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bc := range s.backup[id] {
		if bc.Code == code && !bc.Used {
			now := s.now()
			bc.Used = true
			bc.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryIdentityStore) update(id uuid.UUID, apply func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	apply(stored)
	s.touch(stored)
	return nil
}

func (s *MemoryIdentityStore) touch(u *User) {
	now := s.now()
	u.UpdatedAt = &now
}

// MemoryTokenLedger is a TokenLedger held in memory, keyed by token id so
// identities drawing the same low-entropy value never collide.
type MemoryTokenLedger struct {
	mu          sync.Mutex
	tokens      map[uuid.UUID]*EphemeralToken
	maxAttempts int
	now         func() time.Time
}

// NewMemoryTokenLedger will create a new MemoryTokenLedger
func NewMemoryTokenLedger() *MemoryTokenLedger {
	return &MemoryTokenLedger{
		tokens:      map[uuid.UUID]*EphemeralToken{},
		maxAttempts: MaxTokenAttempts,
		now:         time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (l *MemoryTokenLedger) WithClock(clock func() time.Time) *MemoryTokenLedger {
	if clock != nil {
		l.now = clock
	}
	return l
}

// WithMaxAttempts overrides the attempt cap, normally Config.TokenMaxAttempts.
func (l *MemoryTokenLedger) WithMaxAttempts(n int) *MemoryTokenLedger {
	if n > 0 {
		l.maxAttempts = n
	}
	return l
}

func (l *MemoryTokenLedger) Issue(ctx context.Context, token *EphemeralToken) (*EphemeralToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *token
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := l.now()
	cp.CreatedAt = &now
	l.tokens[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (l *MemoryTokenLedger) FindValid(ctx context.Context, value string, kind TokenKind) (*EphemeralToken, error) {
	return l.findValid(uuid.Nil, value, kind)
}

func (l *MemoryTokenLedger) FindValidForUser(ctx context.Context, userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	return l.findValid(userID, value, kind)
}

func (l *MemoryTokenLedger) findValid(userID uuid.UUID, value string, kind TokenKind) (*EphemeralToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, token := range l.tokens {
		if token.Value != value || token.Kind != kind {
			continue
		}
		if userID != uuid.Nil && token.UserID != userID {
			continue
		}
		if token.Used || !now.Before(token.ExpiresAt) || token.Attempts >= l.maxAttempts {
			continue
		}
		cp := *token
		return &cp, nil
	}
	return nil, ErrInvalidOrExpiredToken
}

func (l *MemoryTokenLedger) MarkUsed(ctx context.Context, token *EphemeralToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.tokens[token.ID]
	if !ok {
		return ErrInvalidOrExpiredToken
	}
	if stored.Used {
		return ErrTokenAlreadyUsed
	}

	now := l.now()
	stored.Used = true
	stored.UsedAt = &now
	token.Used = true
	token.UsedAt = &now
	return nil
}

func (l *MemoryTokenLedger) RecordAttempt(ctx context.Context, token *EphemeralToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if stored, ok := l.tokens[token.ID]; ok {
		stored.Attempts++
	}
	return nil
}

func (l *MemoryTokenLedger) DeleteExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, token := range l.tokens {
		if token.Used || !now.Before(token.ExpiresAt) {
			delete(l.tokens, key)
			removed++
		}
	}
	return removed, nil
}

// MemorySessionRegistry is a SessionRegistry held in memory. All mutation
// happens under one lock so Rotate is atomic with respect to concurrent
// refreshes of the same credential.
type MemorySessionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[string]*Session
	now      func() time.Time
}

// NewMemorySessionRegistry will create a new MemorySessionRegistry
func NewMemorySessionRegistry() *MemorySessionRegistry {
	return &MemorySessionRegistry{
		sessions: map[uuid.UUID]map[string]*Session{},
		now:      time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (r *MemorySessionRegistry) WithClock(clock func() time.Time) *MemorySessionRegistry {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *MemorySessionRegistry) Add(ctx context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *session
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := r.now()
	cp.CreatedAt = &now

	set, ok := r.sessions[cp.UserID]
	if !ok {
		set = map[string]*Session{}
		r.sessions[cp.UserID] = set
	}
	set[cp.Value] = &cp
	return nil
}

func (r *MemorySessionRegistry) Rotate(ctx context.Context, identityID uuid.UUID, oldValue, newValue string, expiresAt time.Time, device string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[identityID]
	if !ok {
		return false, nil
	}

	old, ok := set[oldValue]
	if !ok || old.IsExpired(r.now()) {
		delete(set, oldValue)
		return false, nil
	}

	delete(set, oldValue)

	next := *old
	next.Value = newValue
	next.ExpiresAt = expiresAt
	if device != "" {
		next.Device = device
	}
	set[newValue] = &next
	return true, nil
}

func (r *MemorySessionRegistry) Revoke(ctx context.Context, identityID uuid.UUID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.sessions[identityID]; ok {
		delete(set, value)
	}
	return nil
}

func (r *MemorySessionRegistry) RevokeAll(ctx context.Context, identityID uuid.UUID, exceptValue string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[identityID]
	if !ok {
		return 0, nil
	}

	removed := 0
	for value := range set {
		if exceptValue != "" && value == exceptValue {
			continue
		}
		delete(set, value)
		removed++
	}
	return removed, nil
}

func (r *MemorySessionRegistry) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for _, set := range r.sessions {
		for value, session := range set {
			if session.IsExpired(now) {
				delete(set, value)
				removed++
			}
		}
	}
	return removed, nil
}

// ListActive filters expired entries at read time without mutating the set;
// physical removal belongs to DeleteExpired.
func (r *MemorySessionRegistry) ListActive(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := []Session{}
	for _, session := range r.sessions[identityID] {
		if session.IsExpired(now) {
			continue
		}
		out = append(out, *session)
	}
	return out, nil
}

var (
	_ IdentityStore   = (*MemoryIdentityStore)(nil)
	_ TokenLedger     = (*MemoryTokenLedger)(nil)
	_ SessionRegistry = (*MemorySessionRegistry)(nil)
)
