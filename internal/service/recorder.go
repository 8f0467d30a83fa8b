package service

import (
	"context"
	"fmt"
	"taskTracker/internal/logger"
	"taskTracker/internal/models/task"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryRecorder пишет переходы статусов. Вызывается только внутри транзакции,
// изменившей задачу.
type HistoryRecorder struct{}

func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{}
}

// Record добавляет событие перехода. Для old == new ничего не пишет и возвращает nil.
// recorded_at окончательно назначает хранилище.
func (r *HistoryRecorder) Record(ctx context.Context, tx TaskTx, t *task.Task, oldStatus, newStatus task.Status, actor string) (*task.StatusHistoryEvent, error) {
	if oldStatus == newStatus {
		return nil, nil
	}

	if actor != t.Owner {
		logger.WarnCtx(ctx, "Service: Попытка записи истории не владельцем",
			zap.String("task_id", t.ID.String()),
			zap.String("actor", actor))
		return nil, NewBusinessError(CodeValidation, "история пишется только от имени владельца задачи",
			ToDetail("field", "owner"))
	}

	event := &task.StatusHistoryEvent{
		ID:         uuid.New(),
		TaskID:     t.ID,
		Owner:      actor,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		RecordedAt: time.Now().UTC(),
	}

	if err := tx.AppendHistory(ctx, event); err != nil {
		logger.ErrorCtx(ctx, "Service: Ошибка записи истории статусов", err,
			zap.String("task_id", t.ID.String()))
		return nil, fmt.Errorf("запись истории: %w", err)
	}

	logger.InfoCtx(ctx, "Service: Переход статуса записан",
		zap.String("task_id", t.ID.String()),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)))

	return event, nil
}
