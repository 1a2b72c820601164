package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/accountman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// RateLimiter は認証情報・メールアドレスを受け付けるエンドポイントに適用する。nilなら制限しない。
	RateLimiter  *middleware.RateLimiter
	HTTPRecorder middleware.HTTPRecorder
	TokenParser  middleware.TokenParser

	// 認証
	AuthService AuthServiceInterface

	// 運用
	HealthChecks   []HealthCheck
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Metrics
//
// /api/v1/auth配下のうち認証が必要なルートにはアクセストークンまたは
// リフレッシュトークンのミドルウェアを個別に適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService)
	requireAccess := middleware.NewAccessTokenMiddleware(deps.TokenParser)
	requireRefresh := middleware.NewRefreshTokenMiddleware(deps.TokenParser)

	limited := func(h http.HandlerFunc) http.Handler {
		if deps.RateLimiter == nil {
			return h
		}
		return deps.RateLimiter.Middleware()(h)
	}

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Method(http.MethodPost, "/register", limited(authHandler.Register))
		r.Method(http.MethodPost, "/login", limited(authHandler.Login))
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Method(http.MethodPost, "/forgot-password", limited(authHandler.ForgotPassword))
		r.Method(http.MethodPost, "/reset-password", limited(authHandler.ResetPassword))
		r.Method(http.MethodPost, "/resend-verification", limited(authHandler.ResendVerification))

		// --- リフレッシュトークンが必要なルート ---
		r.With(requireRefresh).Post("/refresh", authHandler.Refresh)

		// --- アクセストークンが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAccess)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}
