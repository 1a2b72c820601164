package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 最小のシークレット長（HS256の鍵長に合わせる）
const minSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis
	RedisURL string

	// JWT
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// Auth policy
	MaxLoginAttempts int
	LockDuration     time.Duration
	PasswordResetTTL time.Duration
	BcryptCost       int

	// Email
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	MailFrom               string
	EmailQueueKey          string
	EmailMaxAttempts       int
	EmailWorkerConcurrency int

	// Worker
	SessionCleanupInterval time.Duration
	WorkerMetricsPort      string

	// Rate Limit
	RateLimitAuthPerMin int

	// Observability
	LogLevel  string
	SentryDSN string

	// Server
	ServerPort string
	// AppBaseURL はメール本文のリンク生成に使うフロントエンドのURL。
	AppBaseURL string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.RedisURL = required("REDIS_URL")
	cfg.JWTAccessSecret = required("JWT_ACCESS_SECRET")
	cfg.JWTRefreshSecret = required("JWT_REFRESH_SECRET")
	cfg.AppBaseURL = strings.TrimRight(required("APP_BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTAccessSecret) < minSecretLength || len(cfg.JWTRefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("JWT secrets must be at least %d bytes", minSecretLength)
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.MaxLoginAttempts = getEnvInt("MAX_LOGIN_ATTEMPTS", 5)
	cfg.LockDuration = getEnvDuration("LOCK_DURATION", 15*time.Minute)
	cfg.PasswordResetTTL = getEnvDuration("PASSWORD_RESET_TTL", time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")
	cfg.EmailQueueKey = getEnvString("EMAIL_QUEUE_KEY", "accountman:email")
	cfg.EmailMaxAttempts = getEnvInt("EMAIL_MAX_ATTEMPTS", 5)
	cfg.EmailWorkerConcurrency = getEnvInt("EMAIL_WORKER_CONCURRENCY", 4)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.RateLimitAuthPerMin = getEnvInt("RATE_LIMIT_AUTH_PER_MIN", 20)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if cfg.MaxLoginAttempts < 1 {
		return nil, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive, got %d", cfg.MaxLoginAttempts)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", cfg.SessionCleanupInterval)
	}

	return cfg, nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
