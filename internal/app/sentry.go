package app

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// initSentry はSentryクライアントを初期化する。DSNが空の場合は何もしない。
func initSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// flushSentry は送信待ちのイベントを最大2秒待って送信する。
func flushSentry() {
	sentry.Flush(2 * time.Second)
}
