package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger до вызова Init ничего не пишет, поэтому пакеты можно тестировать без инициализации
var Logger = zap.NewNop()

func Init(development bool) error {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("сборка логгера: %w", err)
	}

	Logger = built
	return nil
}

func Sync() {
	_ = Logger.Sync()
}

type fieldsKey struct{}

// WithFields запоминает поля в контексте (request_id, owner), все *Ctx-функции
// добавляют их к записи. Поле с тем же ключом заменяет прежнее.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	current := Fields(ctx)
	merged := make([]zap.Field, 0, len(current)+len(fields))
	for _, f := range current {
		if !hasKey(fields, f.Key) {
			merged = append(merged, f)
		}
	}
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func hasKey(fields []zap.Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

func Fields(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return fields
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	scoped := Fields(ctx)
	if len(scoped) == 0 {
		return fields
	}
	all := make([]zap.Field, 0, len(scoped)+len(fields))
	all = append(all, scoped...)
	return append(all, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

func Error(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Logger.Error(msg, fields...)
}

func InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Info(msg, withContext(ctx, fields)...)
}

func WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Warn(msg, withContext(ctx, fields)...)
}

func ErrorCtx(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Logger.Error(msg, withContext(ctx, fields)...)
}

func LogCtx(ctx context.Context, lvl zapcore.Level, msg string, fields ...zap.Field) {
	Logger.Log(lvl, msg, withContext(ctx, fields)...)
}
