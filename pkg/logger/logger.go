package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var globalLogger *slog.Logger

// InitLogger ログレベルに応じてslogを初期化
// 標準出力はノート表示（TUI）が使うため、ログは標準エラー出力に書く
func InitLogger(level string) error {
	return InitLoggerTo(level, os.Stderr)
}

// InitLoggerTo 出力先を指定してslogを初期化
func InitLoggerTo(level string, w io.Writer) error {
	var slogLevel slog.Level

	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return nil
}

// GetLogger グローバルロガーを取得
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		// デフォルトロガーを返す
		return slog.Default()
	}
	return globalLogger
}

// For コンポーネント名つきの子ロガーを取得
func For(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
