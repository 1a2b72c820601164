// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/accountman/internal/auth"
	"github.com/hitoshi/accountman/internal/middleware"
	"github.com/hitoshi/accountman/internal/model"
)

// クライアントに返す固定メッセージ。
const (
	msgLoggedOut            = "Logged out successfully"
	msgEmailVerified        = "Email verified successfully"
	msgEmailAlreadyVerified = "Email is already verified"
	msgPasswordResetSent    = "If an account with that email exists, a password reset link has been sent"
	msgPasswordReset        = "Password has been reset successfully"
	msgVerificationSent     = "Verification email sent"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Logout(ctx context.Context, userID string) error
	RefreshTokens(ctx context.Context, userID, refreshToken string) (*model.TokenPair, error)
	VerifyEmail(ctx context.Context, token string) (alreadyVerified bool, err error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ResendVerificationEmail(ctx context.Context, email string) (alreadyVerified bool, err error)
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler はアカウント認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type profileResponse struct {
	User *model.PublicUser `json:"user"`
}

// Register は新規ユーザーを登録する。
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if apiErr := validateEmail(req.Email); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}
	if apiErr := validateNewPassword(req.Password); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Login はメールアドレスとパスワードで認証する。
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if apiErr := validateEmail(req.Email); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}
	if apiErr := requireField(req.Password, "Password"); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Logout は認証済みユーザーの全セッションを破棄する。
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeMessage(w, msgLoggedOut)
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンペアを返す。
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}
	token, err := middleware.RefreshTokenFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}

	pair, err := h.service.RefreshTokens(r.Context(), userID, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// VerifyEmail はメールアドレス検証トークンを消費する。
// 検証済みトークンの再送信は成功として扱う。
// POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if apiErr := requireField(req.Token, "Token"); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	alreadyVerified, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if alreadyVerified {
		writeMessage(w, msgEmailAlreadyVerified)
		return
	}
	writeMessage(w, msgEmailVerified)
}

// ForgotPassword はパスワードリセットメールを送信する。
// アカウントの有無にかかわらず同一のレスポンスを返す。
// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if apiErr := validateEmail(req.Email); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeMessage(w, msgPasswordResetSent)
}

// ResetPassword はリセットトークンを消費してパスワードを更新する。
// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if apiErr := requireField(req.Token, "Token"); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}
	if apiErr := validateNewPassword(req.NewPassword); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeMessage(w, msgPasswordReset)
}

// ResendVerification は検証メールを再送信する。
// POST /api/v1/auth/resend-verification?email=xxx
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if apiErr := validateEmail(email); apiErr != nil {
		handleServiceError(w, r, apiErr)
		return
	}

	alreadyVerified, err := h.service.ResendVerificationEmail(r.Context(), email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if alreadyVerified {
		writeMessage(w, msgEmailAlreadyVerified)
		return
	}
	writeMessage(w, msgVerificationSent)
}

// Me は現在のログインユーザーのプロフィールを返す。
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{User: user.Public()})
}
