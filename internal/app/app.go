package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/accountman/internal/auth"
	"github.com/hitoshi/accountman/internal/config"
	"github.com/hitoshi/accountman/internal/database"
	"github.com/hitoshi/accountman/internal/handler"
	"github.com/hitoshi/accountman/internal/logger"
	"github.com/hitoshi/accountman/internal/mail"
	"github.com/hitoshi/accountman/internal/metrics"
	"github.com/hitoshi/accountman/internal/middleware"
	"github.com/hitoshi/accountman/internal/repository"
	"github.com/hitoshi/accountman/internal/security"
	"github.com/hitoshi/accountman/internal/worker/cleanup"
	emailworker "github.com/hitoshi/accountman/internal/worker/email"
)

const (
	shutdownTimeout    = 30 * time.Second
	emailPollTimeout   = 5 * time.Second
	queueDepthInterval = 15 * time.Second
	dependencyTimeout  = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envファイル（存在する場合）と環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envの読み込み（既存の環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := initSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		slog.Warn("failed to initialize sentry", slog.String("error", err.Error()))
	}
	defer flushSentry()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
	)

	// SIGINTまたはSIGTERMで停止する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// openStores はPostgreSQLとRedisに接続し、疎通を確認する。
func openStores(ctx context.Context, cfg *config.Config) (*sql.DB, *redis.Client, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, dependencyTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	return db, rdb, nil
}

// newRegistry はGo・プロセスメトリクスとアプリケーションメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.NewCollector(registry)
}

// runServe はAPIサーバーモードで起動する。
// DB・Redis接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB・Redis接続
	db, rdb, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer rdb.Close()

	// 2. リポジトリ・キューの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	queue := mail.NewQueue(rdb, cfg.EmailQueueKey)

	// 3. セキュリティ・メトリクスの初期化
	tokens := security.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	registry, collector := newRegistry()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo, sessionRepo,
		security.NewBcryptHasher(cfg.BcryptCost),
		tokens, queue,
		auth.ServiceConfig{
			MaxLoginAttempts: cfg.MaxLoginAttempts,
			LockDuration:     cfg.LockDuration,
			PasswordResetTTL: cfg.PasswordResetTTL,
		},
	).WithRecorder(collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuthPerMin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPRecorder:      collector,
		TokenParser:       tokens,
		AuthService:       authService,
		HealthChecks: []handler.HealthCheck{
			{Name: "database", Check: db.PingContext},
			{Name: "redis", Check: queue.Ping},
		},
		MetricsHandler: metrics.Handler(registry),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	err = serveUntilDone(ctx, server)

	// 接続を閉じる前に、応答後も続いているリセットメールの発行を待つ
	authService.Wait()
	return err
}

// serveUntilDone はサーバーを起動し、ctxのキャンセルでグレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// newMailer はSMTP_HOSTが設定されていればSMTP送信、未設定ならログ出力のMailerを返す。
func newMailer(cfg *config.Config) mail.Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST is not set; emails will be logged instead of sent")
		return mail.LogMailer{}
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

// runWorker はワーカーモードで起動する。
// メール送信ディスパッチャ、期限切れデータのクリーンアップ、キュー件数の監視を実行し、
// メトリクスとヘルスチェック用のHTTPサーバーを公開する。
// ctxがキャンセルされると処理中の送信の完了を待って停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB・Redis接続
	db, rdb, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer rdb.Close()

	// 2. 依存関係の初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	queue := mail.NewQueue(rdb, cfg.EmailQueueKey)

	renderer, err := mail.NewRenderer(cfg.AppBaseURL, cfg.PasswordResetTTL)
	if err != nil {
		return fmt.Errorf("failed to load email templates: %w", err)
	}

	registry, collector := newRegistry()

	dispatcher := emailworker.NewDispatcher(
		queue, renderer, newMailer(cfg), slog.Default(),
		cfg.EmailWorkerConcurrency, cfg.EmailMaxAttempts,
	).WithRecorder(collector)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, userRepo, slog.Default())

	// 3. メトリクス・ヘルスチェック用サーバー
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	r.Get("/health", handler.NewHealthHandler([]handler.HealthCheck{
		{Name: "database", Check: db.PingContext},
		{Name: "redis", Check: queue.Ping},
	}))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Int("email_concurrency", cfg.EmailWorkerConcurrency),
		slog.Int("email_max_attempts", cfg.EmailMaxAttempts),
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	done := make(chan struct{}, 3)
	go func() {
		defer func() { done <- struct{}{} }()
		cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		emailworker.MonitorDepth(ctx, queue, collector, slog.Default(), queueDepthInterval)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if err := serveUntilDone(ctx, metricsServer); err != nil {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	// メール送信ディスパッチャをメインgoroutineで実行（ブロッキング）
	dispatcher.Start(ctx, emailPollTimeout)

	for i := 0; i < cap(done); i++ {
		<-done
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたはupで未適用のマイグレーションをすべて適用し、down [N]でN件ロールバックする。
func runMigrate(cfg *config.Config, args []string) error {
	direction, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("direction", string(direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if direction == MigrateDown {
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database rollback completed successfully", slog.Int("steps", steps))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(target string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
