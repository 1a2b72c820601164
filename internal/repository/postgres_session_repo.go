package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/accountman/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, session.RefreshTokenHash, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Rotate は一致する有効なセッションを削除し、新しいセッションを作成する。
// DELETE ... RETURNING が行ロックを取るため、同じトークンで同時に呼ばれても
// 行を観測できるのは1トランザクションのみ。
func (r *PostgresSessionRepo) Rotate(ctx context.Context, userID, refreshTokenHash string, now time.Time, next *model.Session) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM sessions
		 WHERE user_id = $1 AND refresh_token_hash = $2 AND expires_at > $3
		 RETURNING id`,
		userID, refreshTokenHash, now,
	).Scan(&oldID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		next.ID, next.UserID, next.RefreshTokenHash, next.ExpiresAt, next.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert rotated session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
// 削除対象が無くてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
