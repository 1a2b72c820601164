// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/accountman/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// 同時登録で後から書き込んだ側がこのエラーを受け取る。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
// 見つからない場合の検索系メソッドはnil, nilを返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByVerificationToken は有効な検証トークン、または使用済みトークンのダイジェストでユーザーを取得する。
	// 有効期限は確認しない。
	FindByVerificationToken(ctx context.Context, token, digest string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// RegisterFailedLogin はログイン失敗回数を原子的に1増やし、
	// maxAttemptsに達した場合はlocked_untilをnow+lockDurationに設定する。
	// 更新後の失敗回数とlocked_untilを返す。
	RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error)

	// ResetLoginFailures は失敗回数を0にし、ロックを解除する。
	ResetLoginFailures(ctx context.Context, id string, now time.Time) error

	// MarkEmailVerified はtokenを保持する未検証ユーザーを検証済みにし、トークンをクリアしてdigestを保存する。
	// 対象行が無い場合はfalseを返す。
	MarkEmailVerified(ctx context.Context, id, token, digest string, now time.Time) (bool, error)

	// SetVerificationToken は検証トークンを差し替える。
	SetVerificationToken(ctx context.Context, id, token string, now time.Time) error

	// SetPasswordResetToken はパスワードリセットトークンと有効期限を設定する。
	SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time, now time.Time) error

	// ResetPassword は有効期限内のリセットトークンを持つユーザーのパスワードを更新し、
	// トークンと有効期限をクリアする。単一のUPDATEで行うため同じトークンで成功するのは1回のみ。
	// 対象ユーザーのIDを返し、該当しない場合は空文字列を返す。
	ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (string, error)

	// ClearExpiredResetTokens は有効期限切れのリセットトークンを削除し、件数を返す。
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// Rotate はuserIDとrefreshTokenHashが一致する有効なセッションを削除し、
	// 同一トランザクションでnextを作成する。一致するセッションが無い場合はfalseを返す。
	Rotate(ctx context.Context, userID, refreshTokenHash string, now time.Time, next *model.Session) (bool, error)

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れセッションを削除し、件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
