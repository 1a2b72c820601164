package email

import "time"

const (
	// initialBackoff は再送の初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は再送の最大遅延（30分）。
	maxBackoff = 30 * time.Minute
	// DefaultMaxAttempts は送信試行回数の上限のデフォルト値。
	DefaultMaxAttempts = 5
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大30分。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
