// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

// Init 初始化全局日志器，service 作为固定字段出现在每条日志里。
// 必须在任何日志调用之前执行，通常在 bootstrap.Init 里完成。
func Init(service string) {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
	// 没有显式绑定日志器的 context 会回落到这个全局实例
	zerolog.DefaultContextLogger = &base
}

// Ctx 返回与上下文关联的日志器，没有则返回全局日志器。
func Ctx(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithContext 将全局日志器挂到 ctx 上，供下游的 logger.Ctx 使用。
func WithContext(ctx context.Context) context.Context {
	return base.WithContext(ctx)
}

func Info() *zerolog.Event  { return base.Info() }
func Warn() *zerolog.Event  { return base.Warn() }
func Error() *zerolog.Event { return base.Error() }
func Fatal() *zerolog.Event { return base.Fatal() }
