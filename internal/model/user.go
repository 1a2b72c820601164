// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービスに登録されたアカウントを表す。
// PasswordHashおよび各種トークンはAPIレスポンスに含めてはならない。
// 外部に返す場合は必ずPublic()を経由すること。
type User struct {
	ID                     string
	Email                  string // 小文字に正規化済み
	PasswordHash           string
	Name                   string
	EmailVerified          bool
	EmailVerificationToken *string
	VerifiedTokenDigest    *string // 使用済み検証トークンのSHA-256
	PasswordResetToken     *string
	PasswordResetExpires   *time.Time
	FailedLoginAttempts    int
	LockedUntil            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsLocked は指定時刻においてログインがロックされているかを返す。
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// PublicUser はAPIレスポンス用のユーザー表現。
// パスワードハッシュやトークン類のフィールドを持たない。
type PublicUser struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public は機密フィールドを除いたPublicUserを返す。
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// Session はリフレッシュトークンに紐づくログインセッションを表す。
// 1ユーザーにつき複数保持できる（マルチデバイス）。
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string // リフレッシュトークンのSHA-256（hex）
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// TokenPair はアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
