// Package auth はアカウント登録、ログイン、セッション管理、メール検証、パスワードリセットを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/accountman/internal/model"
	"github.com/hitoshi/accountman/internal/repository"
	"github.com/hitoshi/accountman/internal/security"
)

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) (bool, error)
}

// TokenIssuer はアクセストークンとリフレッシュトークンのペアを発行する。
type TokenIssuer interface {
	IssuePair(userID string) (accessToken, refreshToken string, err error)
	RefreshTTL() time.Duration
}

// EmailEnqueuer はメール送信ジョブをキューに積む。
type EmailEnqueuer interface {
	Enqueue(ctx context.Context, job *model.EmailJob) error
}

// EventRecorder は認証イベントの結果を記録する。
type EventRecorder interface {
	RecordAuthEvent(operation, outcome string)
}

// Sanitizer は表示名をサニタイズする。
type Sanitizer interface {
	Sanitize(name string) string
}

// 認証イベントの結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeError   = "error"
)

// backgroundTimeout はリクエスト完了後に続行する処理の上限時間。
const backgroundTimeout = 10 * time.Second

// dummyPassword は存在しないユーザーとの照合に使うハッシュの元になる値。
const dummyPassword = "accountman-unknown-user"

// ServiceConfig は認証ポリシーの設定。
type ServiceConfig struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
	PasswordResetTTL time.Duration
}

// AuthResult は登録・ログイン成功時の応答。
type AuthResult struct {
	User         *model.PublicUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	tokens      TokenIssuer
	emails      EmailEnqueuer
	sanitizer   Sanitizer
	recorder    EventRecorder
	config      ServiceConfig
	now         func() time.Time

	// dummyHash は未登録メールでのログイン時に照合するハッシュ。
	dummyHash  string
	background sync.WaitGroup
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	emails EmailEnqueuer,
	config ServiceConfig,
) *Service {
	s := &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		tokens:      tokens,
		emails:      emails,
		sanitizer:   security.NewNameSanitizer(),
		config:      config,
		now:         time.Now,
	}
	// 登録済みユーザーと同じコストで照合できるよう、設定済みのhasherで生成する
	hash, err := hasher.Hash(dummyPassword)
	if err != nil {
		slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
	} else {
		s.dummyHash = hash
	}
	return s
}

// Wait は実行中のバックグラウンド処理の完了を待つ。シャットダウン時に呼ぶ。
func (s *Service) Wait() {
	s.background.Wait()
}

// WithRecorder は認証イベントの記録先を設定する。
func (s *Service) WithRecorder(r EventRecorder) *Service {
	s.recorder = r
	return s
}

func (s *Service) record(operation, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAuthEvent(operation, outcome)
	}
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register は新規ユーザーを登録し、検証メールを送信キューに積んでトークンを発行する。
func (s *Service) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = NormalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.record("register", OutcomeError)
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		s.record("register", OutcomeFailure)
		return nil, model.NewEmailAlreadyExistsError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.record("register", OutcomeError)
		return nil, err
	}
	verifyToken, err := security.GenerateToken()
	if err != nil {
		s.record("register", OutcomeError)
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:                     uuid.New().String(),
		Email:                  email,
		PasswordHash:           hash,
		Name:                   s.sanitizer.Sanitize(name),
		EmailVerified:          false,
		EmailVerificationToken: &verifyToken,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.record("register", OutcomeFailure)
			return nil, model.NewEmailAlreadyExistsError()
		}
		s.record("register", OutcomeError)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.enqueue(ctx, model.EmailKindVerification, user, verifyToken); err != nil {
		s.record("register", OutcomeError)
		return nil, err
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		s.record("register", OutcomeError)
		return nil, err
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	s.record("register", OutcomeSuccess)
	return result, nil
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// ユーザー不在とパスワード不一致は同一のエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	now := s.now().UTC()

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.record("login", OutcomeError)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 応答時間でメールアドレスの登録有無が分からないよう、パスワード照合と同じ処理を行う
		if s.dummyHash != "" {
			_, _ = s.hasher.Verify(s.dummyHash, password)
		}
		s.record("login", OutcomeFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	if user.IsLocked(now) {
		s.record("login", OutcomeLocked)
		return nil, model.NewAccountLockedError()
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		s.record("login", OutcomeError)
		return nil, err
	}
	if !ok {
		attempts, lockedUntil, err := s.userRepo.RegisterFailedLogin(ctx, user.ID, s.config.MaxLoginAttempts, s.config.LockDuration, now)
		if err != nil {
			s.record("login", OutcomeError)
			return nil, err
		}
		if lockedUntil != nil && lockedUntil.After(now) {
			slog.Warn("account locked after failed logins",
				slog.String("user_id", user.ID),
				slog.Int("attempts", attempts),
			)
		}
		s.record("login", OutcomeFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	if user.FailedLoginAttempts != 0 || user.LockedUntil != nil {
		if err := s.userRepo.ResetLoginFailures(ctx, user.ID, now); err != nil {
			s.record("login", OutcomeError)
			return nil, err
		}
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}

	if !user.EmailVerified {
		s.record("login", OutcomeFailure)
		return nil, model.NewEmailNotVerifiedError()
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		s.record("login", OutcomeError)
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	s.record("login", OutcomeSuccess)
	return result, nil
}

// Logout は指定ユーザーの全セッションを削除する。複数回呼んでもエラーにならない。
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		s.record("logout", OutcomeError)
		return err
	}
	slog.Info("user logged out", slog.String("user_id", userID))
	s.record("logout", OutcomeSuccess)
	return nil
}

// RefreshTokens はリフレッシュトークンを消費し、新しいトークンペアを発行する。
// 一致する有効なセッションが無い場合（未知・使用済み・期限切れ）はINVALID_REFRESH_TOKENを返す。
func (s *Service) RefreshTokens(ctx context.Context, userID, refreshToken string) (*model.TokenPair, error) {
	access, refresh, err := s.tokens.IssuePair(userID)
	if err != nil {
		s.record("refresh", OutcomeError)
		return nil, err
	}

	now := s.now().UTC()
	next := &model.Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		RefreshTokenHash: security.HashToken(refresh),
		ExpiresAt:        now.Add(s.tokens.RefreshTTL()),
		CreatedAt:        now,
	}

	rotated, err := s.sessionRepo.Rotate(ctx, userID, security.HashToken(refreshToken), now, next)
	if err != nil {
		s.record("refresh", OutcomeError)
		return nil, err
	}
	if !rotated {
		s.record("refresh", OutcomeFailure)
		return nil, model.NewInvalidRefreshTokenError()
	}

	s.record("refresh", OutcomeSuccess)
	return &model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyEmail は検証トークンでメールアドレスを検証済みにする。
// 検証済みユーザーのトークンが再提示された場合はalreadyVerified=trueを返す。
func (s *Service) VerifyEmail(ctx context.Context, token string) (alreadyVerified bool, err error) {
	digest := security.HashToken(token)

	user, err := s.userRepo.FindByVerificationToken(ctx, token, digest)
	if err != nil {
		s.record("verify_email", OutcomeError)
		return false, err
	}
	if user == nil {
		s.record("verify_email", OutcomeFailure)
		return false, model.NewInvalidTokenError()
	}
	if user.EmailVerified {
		s.record("verify_email", OutcomeSuccess)
		return true, nil
	}

	updated, err := s.userRepo.MarkEmailVerified(ctx, user.ID, token, digest, s.now().UTC())
	if err != nil {
		s.record("verify_email", OutcomeError)
		return false, err
	}
	if !updated {
		// 同時実行で先に検証された
		s.record("verify_email", OutcomeSuccess)
		return true, nil
	}

	slog.Info("email verified", slog.String("user_id", user.ID))
	s.record("verify_email", OutcomeSuccess)
	return false, nil
}

// ForgotPassword はパスワードリセットトークンを発行し、リセットメールを送信キューに積む。
// 存在しないメールアドレスでも成功として扱う。
// 登録済みの場合もトークン発行とキュー投入はバックグラウンドで行い、
// 呼び出し元へは未登録の場合と同じ処理量で戻る。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.record("forgot_password", OutcomeError)
		return err
	}
	if user == nil {
		s.record("forgot_password", OutcomeSuccess)
		return nil
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()

		if err := s.issuePasswordReset(bgCtx, user); err != nil {
			slog.Error("failed to issue password reset",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			s.record("forgot_password", OutcomeError)
			return
		}
		slog.Info("password reset requested", slog.String("user_id", user.ID))
		s.record("forgot_password", OutcomeSuccess)
	}()
	return nil
}

// issuePasswordReset はリセットトークンを保存し、リセットメールをキューに積む。
func (s *Service) issuePasswordReset(ctx context.Context, user *model.User) error {
	token, err := security.GenerateToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.userRepo.SetPasswordResetToken(ctx, user.ID, token, now.Add(s.config.PasswordResetTTL), now); err != nil {
		return err
	}
	return s.enqueue(ctx, model.EmailKindPasswordReset, user, token)
}

// ResetPassword はリセットトークンを消費してパスワードを更新する。
// 成功時は全セッションを失効させ、ログイン失敗回数とロックを解除する。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.record("reset_password", OutcomeError)
		return err
	}

	now := s.now().UTC()
	userID, err := s.userRepo.ResetPassword(ctx, token, hash, now)
	if err != nil {
		s.record("reset_password", OutcomeError)
		return err
	}
	if userID == "" {
		s.record("reset_password", OutcomeFailure)
		return model.NewInvalidTokenError()
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		s.record("reset_password", OutcomeError)
		return err
	}
	if err := s.userRepo.ResetLoginFailures(ctx, userID, now); err != nil {
		s.record("reset_password", OutcomeError)
		return err
	}

	slog.Info("password reset completed", slog.String("user_id", userID))
	s.record("reset_password", OutcomeSuccess)
	return nil
}

// ResendVerificationEmail は検証トークンを再発行し、検証メールを送信キューに積む。
// 検証済みの場合はalreadyVerified=trueを返す。
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) (alreadyVerified bool, err error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.record("resend_verification", OutcomeError)
		return false, err
	}
	if user == nil {
		s.record("resend_verification", OutcomeFailure)
		return false, model.NewUserNotFoundError()
	}
	if user.EmailVerified {
		s.record("resend_verification", OutcomeSuccess)
		return true, nil
	}

	token, err := security.GenerateToken()
	if err != nil {
		s.record("resend_verification", OutcomeError)
		return false, err
	}
	if err := s.userRepo.SetVerificationToken(ctx, user.ID, token, s.now().UTC()); err != nil {
		s.record("resend_verification", OutcomeError)
		return false, err
	}
	if err := s.enqueue(ctx, model.EmailKindVerification, user, token); err != nil {
		s.record("resend_verification", OutcomeError)
		return false, err
	}

	s.record("resend_verification", OutcomeSuccess)
	return false, nil
}

// GetProfile は指定ユーザーを取得する。
// トークン発行後にユーザーが削除されていた場合は認証エラーとして扱う。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// issueSession はトークンペアを発行し、リフレッシュトークンのハッシュでセッションを保存する。
func (s *Service) issueSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	access, refresh, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		RefreshTokenHash: security.HashToken(refresh),
		ExpiresAt:        now.Add(s.tokens.RefreshTTL()),
		CreatedAt:        now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	return &AuthResult{
		User:         user.Public(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *Service) enqueue(ctx context.Context, kind model.EmailKind, user *model.User, token string) error {
	job := &model.EmailJob{
		ID:         uuid.New().String(),
		Kind:       kind,
		To:         user.Email,
		Name:       user.Name,
		Token:      token,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.emails.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue %s email: %w", kind, err)
	}
	return nil
}
