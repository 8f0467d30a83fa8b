package service

import (
	"context"
	"taskTracker/internal/models/task"

	"github.com/google/uuid"
)

// TaskRepository - хранилище задач. Все чтения и записи ограничены владельцем.
type TaskRepository interface {
	HealthCheck(ctx context.Context) error
	GetByID(ctx context.Context, owner string, id uuid.UUID) (*task.Task, error)
	ListActive(ctx context.Context, owner string, filter task.Filter) ([]*task.Task, error)
	ListHistory(ctx context.Context, owner string, taskID uuid.UUID, filter task.HistoryFilter) ([]*task.StatusHistoryEvent, error)
	Stats(ctx context.Context, owner string) (task.Stats, error)
	ListOwners(ctx context.Context) ([]string, error)

	// InOwnerTx выполняет fn в одной транзакции под эксклюзивной блокировкой
	// активных задач владельца. Ошибка fn откатывает все записи.
	InOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx TaskTx) error) error
}

type TaskTx interface {
	GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error)
	// LockActive - все активные задачи владельца по возрастанию приоритета
	LockActive(ctx context.Context) ([]*task.Task, error)
	Insert(ctx context.Context, t *task.Task) error
	Save(ctx context.Context, t *task.Task) error
	// SaveBatch сохраняет приоритеты пачки задач одной записью
	SaveBatch(ctx context.Context, tasks []*task.Task) error
	AppendHistory(ctx context.Context, event *task.StatusHistoryEvent) error
}
