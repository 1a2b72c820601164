package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/accountman/internal/model"
)

// MemoryStore はユーザーとセッションをプロセス内に保持するストア。
// PostgreSQL実装と同じ一意性・単一使用の保証を単一のミューテックスで再現する。
// ユニットテストとローカル検証用。
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
	}
}

// SessionCount は指定ユーザーのセッション数を返す。userIDが空なら全件数を返す。
func (s *MemoryStore) SessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if userID == "" || sess.UserID == userID {
			n++
		}
	}
	return n
}

// MemoryUserRepo はMemoryStoreを使用したユーザーリポジトリ。
type MemoryUserRepo struct {
	store *MemoryStore
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo(store *MemoryStore) *MemoryUserRepo {
	return &MemoryUserRepo{store: store}
}

func copyUser(u *model.User) *model.User {
	c := *u
	c.EmailVerificationToken = copyString(u.EmailVerificationToken)
	c.VerifiedTokenDigest = copyString(u.VerifiedTokenDigest)
	c.PasswordResetToken = copyString(u.PasswordResetToken)
	c.PasswordResetExpires = copyTime(u.PasswordResetExpires)
	c.LockedUntil = copyTime(u.LockedUntil)
	return &c
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *MemoryUserRepo) find(match func(u *model.User) bool) *model.User {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

// FindByVerificationToken は検証トークンまたは使用済みダイジェストでユーザーを取得する。
func (r *MemoryUserRepo) FindByVerificationToken(_ context.Context, token, digest string) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return (u.EmailVerificationToken != nil && *u.EmailVerificationToken == token) ||
			(u.VerifiedTokenDigest != nil && *u.VerifiedTokenDigest == digest)
	}), nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	r.store.users[user.ID] = copyUser(user)
	return nil
}

// RegisterFailedLogin はログイン失敗回数を1増やし、閾値到達時にロックする。
// ロック期間が終了している場合は1から数え直す。
func (r *MemoryUserRepo) RegisterFailedLogin(_ context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[id]
	if !ok {
		return 0, nil, nil
	}
	if u.LockedUntil != nil && !u.LockedUntil.After(now) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		u.LockedUntil = &until
	}
	u.UpdatedAt = now
	return u.FailedLoginAttempts, copyTime(u.LockedUntil), nil
}

// ResetLoginFailures は失敗回数とロックをリセットする。
func (r *MemoryUserRepo) ResetLoginFailures(_ context.Context, id string, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if u, ok := r.store.users[id]; ok {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.UpdatedAt = now
	}
	return nil
}

// MarkEmailVerified はユーザーを検証済みにする。
func (r *MemoryUserRepo) MarkEmailVerified(_ context.Context, id, token, digest string, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[id]
	if !ok || u.EmailVerified || u.EmailVerificationToken == nil || *u.EmailVerificationToken != token {
		return false, nil
	}
	u.EmailVerified = true
	u.EmailVerificationToken = nil
	u.VerifiedTokenDigest = &digest
	u.UpdatedAt = now
	return true, nil
}

// SetVerificationToken は検証トークンを差し替える。
func (r *MemoryUserRepo) SetVerificationToken(_ context.Context, id, token string, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if u, ok := r.store.users[id]; ok {
		u.EmailVerificationToken = &token
		u.UpdatedAt = now
	}
	return nil
}

// SetPasswordResetToken はリセットトークンと有効期限を設定する。
func (r *MemoryUserRepo) SetPasswordResetToken(_ context.Context, id, token string, expires time.Time, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if u, ok := r.store.users[id]; ok {
		u.PasswordResetToken = &token
		u.PasswordResetExpires = &expires
		u.UpdatedAt = now
	}
	return nil
}

// ResetPassword はリセットトークンを消費してパスワードを更新する。
func (r *MemoryUserRepo) ResetPassword(_ context.Context, token, passwordHash string, now time.Time) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.PasswordResetToken == nil || *u.PasswordResetToken != token {
			continue
		}
		if u.PasswordResetExpires == nil || !u.PasswordResetExpires.After(now) {
			return "", nil
		}
		u.PasswordHash = passwordHash
		u.PasswordResetToken = nil
		u.PasswordResetExpires = nil
		u.UpdatedAt = now
		return u.ID, nil
	}
	return "", nil
}

// ClearExpiredResetTokens は期限切れのリセットトークンをクリアする。
func (r *MemoryUserRepo) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, u := range r.store.users {
		if u.PasswordResetExpires != nil && !u.PasswordResetExpires.After(now) {
			u.PasswordResetToken = nil
			u.PasswordResetExpires = nil
			n++
		}
	}
	return n, nil
}

// MemorySessionRepo はMemoryStoreを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	store *MemoryStore
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo(store *MemoryStore) *MemorySessionRepo {
	return &MemorySessionRepo{store: store}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *session
	r.store.sessions[session.ID] = &c
	return nil
}

// Rotate は一致する有効なセッションを削除し、新しいセッションを作成する。
func (r *MemorySessionRepo) Rotate(_ context.Context, userID, refreshTokenHash string, now time.Time, next *model.Session) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, sess := range r.store.sessions {
		if sess.UserID == userID && sess.RefreshTokenHash == refreshTokenHash && sess.ExpiresAt.After(now) {
			delete(r.store.sessions, id)
			c := *next
			r.store.sessions[next.ID] = &c
			return true, nil
		}
	}
	return false, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, sess := range r.store.sessions {
		if sess.UserID == userID {
			delete(r.store.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, sess := range r.store.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.store.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
)
