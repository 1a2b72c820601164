// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れセッションとパスワードリセットトークンを削除する。
// 有効期限は参照時にも判定されるため、このジョブはストレージの整理のみを目的とする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenPurger は期限切れのパスワードリセットトークンをクリアする。
type ResetTokenPurger interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	users    ResetTokenPurger
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, users ResetTokenPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// Start はinterval間隔でRunを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	for {
		// エラーはRun内でログ出力済み
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// Run は期限切れセッションとリセットトークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now().UTC()

	sessions, err := j.sessions.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	tokens, err := j.users.ClearExpiredResetTokens(ctx, now)
	if err != nil {
		j.logger.Error("期限切れリセットトークンの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れリセットトークンの削除に失敗: %w", err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("cleared_reset_tokens", tokens),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
