package logger_test

import (
	"context"
	"errors"
	"taskTracker/internal/logger"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	prev := logger.Logger
	logger.Logger = zap.New(core)
	t.Cleanup(func() { logger.Logger = prev })
	return logs
}

func TestWithFields(t *testing.T) {
	logs := observe(t)

	ctx := logger.WithFields(context.Background(), zap.String("request_id", "req-1"))
	ctx = logger.WithFields(ctx, zap.String("owner", "alice"))
	ctx = logger.WithFields(ctx, zap.String("owner", "bob"))

	logger.InfoCtx(ctx, "Service: Задача создана", zap.Int("priority", 3))
	logger.ErrorCtx(ctx, "Service: Ошибка", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "bob", fields["owner"])
	assert.Equal(t, int64(3), fields["priority"])
	assert.Len(t, entries[0].Context, 3)

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestWithFields_ParentUnchanged(t *testing.T) {
	parent := logger.WithFields(context.Background(), zap.String("request_id", "req-1"))
	_ = logger.WithFields(parent, zap.String("owner", "alice"))

	assert.Len(t, logger.Fields(parent), 1)
	assert.Empty(t, logger.Fields(context.Background()))
}
