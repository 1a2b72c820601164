package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/accountman/internal/database"
	"github.com/hitoshi/accountman/internal/model"
)

const userColumns = `id, email, password_hash, name, email_verified,
	email_verification_token, verified_token_digest,
	password_reset_token, password_reset_expires,
	failed_login_attempts, locked_until, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u              model.User
		verifyToken    sql.NullString
		verifiedDigest sql.NullString
		resetToken     sql.NullString
		resetExpires   sql.NullTime
		lockedUntil    sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.EmailVerified,
		&verifyToken, &verifiedDigest,
		&resetToken, &resetExpires,
		&u.FailedLoginAttempts, &lockedUntil, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.EmailVerificationToken = nullStringPtr(verifyToken)
	u.VerifiedTokenDigest = nullStringPtr(verifiedDigest)
	u.PasswordResetToken = nullStringPtr(resetToken)
	u.PasswordResetExpires = nullTimePtr(resetExpires)
	u.LockedUntil = nullTimePtr(lockedUntil)
	return &u, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByVerificationToken は検証トークンまたは使用済みダイジェストでユーザーを取得する。
func (r *PostgresUserRepo) FindByVerificationToken(ctx context.Context, token, digest string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE email_verification_token = $1 OR verified_token_digest = $2
		 LIMIT 1`,
		token, digest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by verification token: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// users_email_keyの一意制約違反はErrDuplicateEmailに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, email_verified,
			email_verification_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.EmailVerified,
		user.EmailVerificationToken, user.CreatedAt, user.UpdatedAt,
	)
	if database.IsUniqueViolation(err, "users_email_key") {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// RegisterFailedLogin はログイン失敗回数を1増やし、閾値到達時にロックする。
// 単一のUPDATE文で行うため、同時失敗でもカウントは失われない。
// ロック期間が終了している場合は1から数え直す。
func (r *PostgresUserRepo) RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET failed_login_attempts = CASE
		         WHEN locked_until <= $4 THEN 1
		         ELSE failed_login_attempts + 1
		     END,
		     locked_until = CASE
		         WHEN (CASE WHEN locked_until <= $4 THEN 0 ELSE failed_login_attempts END) + 1 >= $2
		             THEN $3::timestamptz
		         WHEN locked_until <= $4 THEN NULL
		         ELSE locked_until
		     END,
		     updated_at = $4
		 WHERE id = $1
		 RETURNING failed_login_attempts, locked_until`,
		id, maxAttempts, now.Add(lockDuration), now,
	).Scan(&attempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to register failed login: %w", err)
	}
	return attempts, nullTimePtr(lockedUntil), nil
}

// ResetLoginFailures は失敗回数とロックをリセットする。
func (r *PostgresUserRepo) ResetLoginFailures(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET failed_login_attempts = 0, locked_until = NULL, updated_at = $2
		 WHERE id = $1 AND (failed_login_attempts <> 0 OR locked_until IS NOT NULL)`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

// MarkEmailVerified はユーザーを検証済みにする。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id, token, digest string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email_verified = TRUE,
		     email_verification_token = NULL,
		     verified_token_digest = $3,
		     updated_at = $4
		 WHERE id = $1 AND email_verification_token = $2 AND email_verified = FALSE`,
		id, token, digest, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark email verified: %w", err)
	}
	return affectedOne(result)
}

// SetVerificationToken は検証トークンを差し替える。
func (r *PostgresUserRepo) SetVerificationToken(ctx context.Context, id, token string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verification_token = $2, updated_at = $3 WHERE id = $1`,
		id, token, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set verification token: %w", err)
	}
	return nil
}

// SetPasswordResetToken はリセットトークンと有効期限を設定する。
func (r *PostgresUserRepo) SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_reset_token = $2, password_reset_expires = $3, updated_at = $4
		 WHERE id = $1`,
		id, token, expires, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set password reset token: %w", err)
	}
	return nil
}

// ResetPassword はリセットトークンを消費してパスワードを更新する。
// 同一トークンで同時に呼ばれた場合、行ロック取得後に述語が再評価されるため1件のみ成功する。
func (r *PostgresUserRepo) ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET password_hash = $2,
		     password_reset_token = NULL,
		     password_reset_expires = NULL,
		     updated_at = $3
		 WHERE password_reset_token = $1 AND password_reset_expires > $3
		 RETURNING id`,
		token, passwordHash, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to reset password: %w", err)
	}
	return id, nil
}

// ClearExpiredResetTokens は期限切れのリセットトークンをクリアする。
func (r *PostgresUserRepo) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_reset_token = NULL, password_reset_expires = NULL
		 WHERE password_reset_expires IS NOT NULL AND password_reset_expires <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired reset tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
