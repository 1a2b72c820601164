// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue は機密属性の置換後の値。
const RedactedValue = "[REDACTED]"

// sensitiveKeys はログに値を出力しない属性名。
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"new_password":  {},
	"newpassword":   {},
	"token":         {},
	"refresh_token": {},
	"access_token":  {},
	"authorization": {},
}

// level はSetupDefaultで生成したロガーの出力レベル。SetLevelで変更できる。
var level = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return New(w, slog.LevelInfo)
}

// New は指定レベル以上を出力するJSONロガーを生成する。
// 機密属性（password、token等）は値をマスクする。
func New(w io.Writer, lvl slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(New(w, level))
}

// SetLevel はグローバルロガーの出力レベルを変更する。
// 不明な値はinfoとして扱う。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// ParseLevel はdebug/info/warn/errorの文字列をslog.Levelに変換する。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}
