package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current.Store(newLogger(os.Stdout))
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 替换全局日志输出目标（例如 stdout + 文件）。已通过 With 取得的 logger 不受影响。
func SetOutput(w io.Writer) {
	current.Store(newLogger(w))
}

// SetLevel 接受 debug/info/warn/error，未知值回退为 info。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Enabled reports whether records at level would be written.
func Enabled(level slog.Level) bool {
	return levelVar.Level() <= level
}

// With 返回带固定字段的 logger，用于组件级结构化输出（component=search 等）。
func With(args ...any) *slog.Logger {
	return current.Load().With(args...)
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

func logf(level slog.Level, format string, v ...any) {
	if !Enabled(level) {
		return
	}
	current.Load().Log(context.Background(), level, fmt.Sprintf(format, v...))
}

// InfoBlock 按行输出多行文本（例如分类报告）。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
