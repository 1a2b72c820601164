// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/accountman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// refreshTokenContextKey は検証済みリフレッシュトークンを格納するためのキー。
	refreshTokenContextKey = contextKey("refresh_token")
)

// TokenParser はJWTを検証してユーザーIDを返す。
// security.TokenManagerが満たす。
type TokenParser interface {
	ParseAccess(token string) (string, error)
	ParseRefresh(token string) (string, error)
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// NewAccessTokenMiddleware はBearerアクセストークンを検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// トークンが無い、または不正な場合は401を返す。
func NewAccessTokenMiddleware(parser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			userID, err := parser.ParseAccess(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			setLoggedUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// NewRefreshTokenMiddleware はBearerリフレッシュトークンを検証するミドルウェアを返す。
// トークンが無い場合は401、署名・期限・種別が不正な場合は403を返す。
// ユーザーIDとトークン文字列をリクエストコンテキストに注入する。
func NewRefreshTokenMiddleware(parser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			userID, err := parser.ParseRefresh(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusForbidden, model.NewInvalidRefreshTokenError())
				return
			}

			setLoggedUserID(r.Context(), userID)
			ctx := ContextWithUserID(r.Context(), userID)
			ctx = context.WithValue(ctx, refreshTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RefreshTokenFromContext はリフレッシュトークンミドルウェアが検証したトークンを取得する。
func RefreshTokenFromContext(ctx context.Context) (string, error) {
	token, ok := ctx.Value(refreshTokenContextKey).(string)
	if !ok || token == "" {
		return "", fmt.Errorf("refresh token not found in context")
	}
	return token, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
