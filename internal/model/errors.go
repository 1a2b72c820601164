// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含み、そのままHTTPレスポンスに変換される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeEmailAlreadyExists  = "EMAIL_ALREADY_EXISTS"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeAccountLocked       = "ACCOUNT_LOCKED"
	ErrCodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// IsAPIError はerrが指定コードのAPIErrorかどうかを返す。
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewInvalidTokenError は検証・リセット用トークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Invalid or expired token",
		Category: "validation",
		Action:   "Request a new link and try again.",
	}
}

// NewEmailAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "Email already registered",
		Category: "auth",
		Action:   "Log in or use a different email address.",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// ユーザー不在とパスワード不一致で同一のメッセージを返すこと。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewUnauthorizedError はトークン欠落・不正時のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Log in and retry with a valid bearer token.",
	}
}

// NewAccountLockedError はアカウントロック中のエラーを生成する。
func NewAccountLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  "Account is temporarily locked due to too many failed login attempts",
		Category: "auth",
		Action:   "Wait until the lock expires or reset your password.",
	}
}

// NewEmailNotVerifiedError はメール未検証エラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "Please verify your email before logging in",
		Category: "auth",
		Action:   "Follow the link in the verification email or request a new one.",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークンが不正・再利用・期限切れの場合のエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "Invalid refresh token",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Check the email address or register a new account.",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録すること。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
