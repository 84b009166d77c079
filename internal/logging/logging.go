// Package logging 提供全局 zerolog logger（JSON / console 两种格式，可选滚动日志文件）。
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述日志输出。
type Config struct {
	Level  string // trace/debug/info/warn/error，默认 info
	Format string // json/console，默认 json
	File   string // 非空：额外写入滚动日志文件（lumberjack）

	// 以下仅在 File 非空时生效。
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Output io.Writer // 默认 os.Stderr
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	closer io.Closer
)

// Init 按配置重建全局 logger。可以重复调用；旧的日志文件会被关闭。
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	if f := strings.TrimSpace(cfg.File); f != "" {
		lj := &lumberjack.Logger{
			Filename:   f,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		closer = lj
		// 文件始终写 JSON，便于后续检索；终端输出保持 cfg.Format。
		out = zerolog.MultiLevelWriter(out, lj)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	logger = zerolog.New(out).With().Timestamp().Logger()
}

// Close 关闭日志文件（如果有）。
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// Logger 返回当前全局 logger 的副本。
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With 返回带 component 字段的子 logger。
func With(component string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", component).Logger()
}

// ParseLevel 把字符串转换为 zerolog.Level；无法识别时回退 info。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
