package email

import (
	"context"
	"log/slog"
	"time"
)

// StatsSource はキューの状態別件数を返す。mail.Queueが満たす。
type StatsSource interface {
	Stats(ctx context.Context) (pending, retrying, dead int64, err error)
}

// DepthGauge はキューの状態別件数を記録する。metrics.Collectorが満たす。
type DepthGauge interface {
	SetEmailQueueDepth(pending, retrying, dead int64)
}

// MonitorDepth はinterval間隔でキューの件数を取得しゲージに反映する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func MonitorDepth(ctx context.Context, source StatsSource, gauge DepthGauge, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, retrying, dead, err := source.Stats(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("キュー件数の取得に失敗しました", slog.String("error", err.Error()))
			}
		} else {
			gauge.SetEmailQueueDepth(pending, retrying, dead)
			if dead > 0 {
				logger.Debug("デッドレターにジョブがあります", slog.Int64("dead", dead))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
