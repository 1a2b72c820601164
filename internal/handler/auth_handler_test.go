package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/accountman/internal/auth"
	"github.com/hitoshi/accountman/internal/middleware"
	"github.com/hitoshi/accountman/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn       func(ctx context.Context, email, password, name string) (*auth.AuthResult, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.AuthResult, error)
	logoutFn         func(ctx context.Context, userID string) error
	refreshFn        func(ctx context.Context, userID, refreshToken string) (*model.TokenPair, error)
	verifyEmailFn    func(ctx context.Context, token string) (bool, error)
	forgotPasswordFn func(ctx context.Context, email string) error
	resetPasswordFn  func(ctx context.Context, token, newPassword string) error
	resendFn         func(ctx context.Context, email string) (bool, error)
	getProfileFn     func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, name)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, userID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, userID)
	}
	return nil
}

func (m *mockAuthService) RefreshTokens(ctx context.Context, userID, refreshToken string) (*model.TokenPair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, userID, refreshToken)
	}
	return &model.TokenPair{}, nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) (bool, error) {
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, token)
	}
	return false, nil
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.forgotPasswordFn != nil {
		return m.forgotPasswordFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, token, newPassword)
	}
	return nil
}

func (m *mockAuthService) ResendVerificationEmail(ctx context.Context, email string) (bool, error) {
	if m.resendFn != nil {
		return m.resendFn(ctx, email)
	}
	return false, nil
}

func (m *mockAuthService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return nil, model.NewUnauthorizedError()
}

// compile-time interface check
var _ AuthServiceInterface = (*mockAuthService)(nil)

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func parseMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode message response: %v", err)
	}
	return body.Message
}

const validPassword = "Str0ng!Pass"

// --- POST /api/v1/auth/register テスト ---

func TestAuthHandler_Register_Success(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
			if email != "alice@example.com" || password != validPassword || name != "Alice" {
				t.Errorf("Register(%q, %q, %q)", email, password, name)
			}
			return &auth.AuthResult{
				User:         &model.PublicUser{ID: "user-1", Email: email, Name: name},
				AccessToken:  "access",
				RefreshToken: "refresh",
			}, nil
		},
	}
	h := NewAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/api/v1/auth/register",
		`{"email":"alice@example.com","password":"`+validPassword+`","name":"Alice"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["accessToken"] != "access" || body["refreshToken"] != "refresh" {
		t.Errorf("body = %v", body)
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != "user-1" {
		t.Errorf("user = %v", user)
	}
	if _, ok := user["passwordHash"]; ok {
		t.Error("password hash must not be exposed")
	}
}

func TestAuthHandler_Register_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"不正なJSON", `{"email":`},
		{"空ボディ", ``},
		{"未知のフィールド", `{"email":"a@example.com","password":"` + validPassword + `","role":"admin"}`},
		{"メール形式不正", `{"email":"not-an-email","password":"` + validPassword + `"}`},
		{"表示名付きメール", `{"email":"Alice <a@example.com>","password":"` + validPassword + `"}`},
		{"弱いパスワード", `{"email":"a@example.com","password":"password"}`},
		{"複数のJSON値", `{"email":"a@example.com","password":"` + validPassword + `"}{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewAuthHandler(&mockAuthService{
				registerFn: func(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
					called = true
					return &auth.AuthResult{}, nil
				},
			})

			w := httptest.NewRecorder()
			h.Register(w, jsonRequest(http.MethodPost, "/api/v1/auth/register", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if called {
				t.Error("service should not be called")
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeValidationFailed {
				t.Errorf("code = %q", body["code"])
			}
		})
	}
}

func TestAuthHandler_Register_BodyTooLarge(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})
	big := `{"email":"a@example.com","password":"` + validPassword + `","name":"` + strings.Repeat("a", maxRequestBodyBytes) + `"}`

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/api/v1/auth/register", big))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Register_DuplicateEmail_ReturnsConflict(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
			return nil, model.NewEmailAlreadyExistsError()
		},
	})

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@example.com","password":"`+validPassword+`"}`))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAuthHandler_Register_InternalError_HidesDetails(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
			return nil, errors.New("pq: connection refused")
		},
	})

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@example.com","password":"`+validPassword+`"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeInternal {
		t.Errorf("code = %q", body["code"])
	}
	if strings.Contains(body["message"], "pq") {
		t.Errorf("message leaks internal error: %q", body["message"])
	}
}

// --- POST /api/v1/auth/login テスト ---

func TestAuthHandler_Login_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"成功", nil, http.StatusOK},
		{"認証失敗", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"ロック中", model.NewAccountLockedError(), http.StatusForbidden},
		{"未検証", model.NewEmailNotVerifiedError(), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				loginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &auth.AuthResult{AccessToken: "a", RefreshToken: "r"}, nil
				},
			})

			w := httptest.NewRecorder()
			h.Login(w, jsonRequest(http.MethodPost, "/api/v1/auth/login",
				`{"email":"a@example.com","password":"whatever"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthHandler_Login_MissingPassword(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- POST /api/v1/auth/logout テスト ---

func TestAuthHandler_Logout(t *testing.T) {
	t.Run("認証済みならセッションを破棄して200", func(t *testing.T) {
		var got string
		h := NewAuthHandler(&mockAuthService{
			logoutFn: func(ctx context.Context, userID string) error {
				got = userID
				return nil
			},
		})

		w := httptest.NewRecorder()
		h.Logout(w, withUserID(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), "user-123"))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got != "user-123" {
			t.Errorf("userID = %q, want user-123", got)
		}
		if msg := parseMessage(t, w); msg != msgLoggedOut {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("ユーザーIDなしは401", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{})
		w := httptest.NewRecorder()
		h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// --- POST /api/v1/auth/verify-email テスト ---

func TestAuthHandler_VerifyEmail(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		already     bool
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"初回検証", `{"token":"t"}`, false, nil, http.StatusOK, msgEmailVerified},
		{"検証済み", `{"token":"t"}`, true, nil, http.StatusOK, msgEmailAlreadyVerified},
		{"不明なトークン", `{"token":"t"}`, false, model.NewInvalidTokenError(), http.StatusBadRequest, ""},
		{"トークンなし", `{}`, false, nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				verifyEmailFn: func(ctx context.Context, token string) (bool, error) {
					return tt.already, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.VerifyEmail(w, jsonRequest(http.MethodPost, "/api/v1/auth/verify-email", tt.body))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantMessage != "" {
				if msg := parseMessage(t, w); msg != tt.wantMessage {
					t.Errorf("message = %q, want %q", msg, tt.wantMessage)
				}
			}
		})
	}
}

// --- POST /api/v1/auth/forgot-password テスト ---

func TestAuthHandler_ForgotPassword(t *testing.T) {
	var got string
	h := NewAuthHandler(&mockAuthService{
		forgotPasswordFn: func(ctx context.Context, email string) error {
			got = email
			return nil
		},
	})

	w := httptest.NewRecorder()
	h.ForgotPassword(w, jsonRequest(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"a@example.com"}`))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != "a@example.com" {
		t.Errorf("email = %q", got)
	}
	if msg := parseMessage(t, w); msg != msgPasswordResetSent {
		t.Errorf("message = %q", msg)
	}

	w = httptest.NewRecorder()
	h.ForgotPassword(w, jsonRequest(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"broken"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- POST /api/v1/auth/reset-password テスト ---

func TestAuthHandler_ResetPassword(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"成功", `{"token":"t","newPassword":"` + validPassword + `"}`, nil, http.StatusOK},
		{"無効なトークン", `{"token":"t","newPassword":"` + validPassword + `"}`, model.NewInvalidTokenError(), http.StatusBadRequest},
		{"弱いパスワード", `{"token":"t","newPassword":"short"}`, nil, http.StatusBadRequest},
		{"トークンなし", `{"newPassword":"` + validPassword + `"}`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
					return tt.err
				},
			})

			w := httptest.NewRecorder()
			h.ResetPassword(w, jsonRequest(http.MethodPost, "/api/v1/auth/reset-password", tt.body))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- POST /api/v1/auth/resend-verification テスト ---

func TestAuthHandler_ResendVerification(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		already     bool
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"送信", "?email=a@example.com", false, nil, http.StatusOK, msgVerificationSent},
		{"検証済み", "?email=a@example.com", true, nil, http.StatusOK, msgEmailAlreadyVerified},
		{"ユーザーなし", "?email=a@example.com", false, model.NewUserNotFoundError(), http.StatusNotFound, ""},
		{"メールなし", "", false, nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				resendFn: func(ctx context.Context, email string) (bool, error) {
					return tt.already, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.ResendVerification(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/resend-verification"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantMessage != "" {
				if msg := parseMessage(t, w); msg != tt.wantMessage {
					t.Errorf("message = %q, want %q", msg, tt.wantMessage)
				}
			}
		})
	}
}

// --- GET /api/v1/auth/me テスト ---

func TestAuthHandler_Me_ReturnsPublicProfile(t *testing.T) {
	now := time.Now()
	h := NewAuthHandler(&mockAuthService{
		getProfileFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{
				ID:           userID,
				Email:        "me@example.com",
				PasswordHash: "secret-hash",
				Name:         "Me",
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), "user-9"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "secret-hash") {
		t.Error("password hash must not be exposed")
	}
	var body profileResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.User == nil || body.User.ID != "user-9" || body.User.Email != "me@example.com" {
		t.Errorf("user = %+v", body.User)
	}
}

// ユーザーが存在しない場合は401を返すこと
func TestAuthHandler_Me_MissingUser(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), "gone"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUnauthorized)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError("x"), http.StatusBadRequest},
		{model.NewInvalidTokenError(), http.StatusBadRequest},
		{model.NewEmailAlreadyExistsError(), http.StatusConflict},
		{model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewAccountLockedError(), http.StatusForbidden},
		{model.NewEmailNotVerifiedError(), http.StatusForbidden},
		{model.NewInvalidRefreshTokenError(), http.StatusForbidden},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewRateLimitError(), http.StatusTooManyRequests},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}
