package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はメール送信・クリーンアップのワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はマイグレーションの方向を表す。
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// ParseMigrateArgs はmigrateサブコマンドの引数を解析する。
//
//	migrate           → up
//	migrate up        → up
//	migrate down [N]  → N件ロールバック（省略時は1）
func ParseMigrateArgs(args []string) (MigrateDirection, int, error) {
	if len(args) == 0 || args[0] == string(MigrateUp) {
		return MigrateUp, 0, nil
	}
	if args[0] != string(MigrateDown) {
		return "", 0, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}
	if len(args) < 2 {
		return MigrateDown, 1, nil
	}
	steps, err := strconv.Atoi(args[1])
	if err != nil || steps < 1 {
		return "", 0, fmt.Errorf("invalid rollback steps %q", args[1])
	}
	return MigrateDown, steps, nil
}
