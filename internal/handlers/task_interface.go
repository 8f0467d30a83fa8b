package handlers

import (
	"context"
	"taskTracker/internal/models/task"

	"github.com/google/uuid"
)

type Service interface {
	HealthCheck(ctx context.Context) error
	CreateTask(ctx context.Context, owner, title, description string, options ...task.TaskOption) (*task.Task, error)
	GetTask(ctx context.Context, owner string, id uuid.UUID) (*task.Task, error)
	UpdateTask(ctx context.Context, owner string, id uuid.UUID, options ...task.TaskOption) (*task.Task, error)
	DeleteTask(ctx context.Context, owner string, id uuid.UUID) error
	ListTasks(ctx context.Context, owner string, filter task.Filter) ([]*task.Task, error)
	ListCompleted(ctx context.Context, owner string, page, limit int) ([]*task.Task, error)
	ListPending(ctx context.Context, owner string, page, limit int) ([]*task.Task, error)
	Stats(ctx context.Context, owner string) (task.Stats, error)
	ListHistory(ctx context.Context, owner string, id uuid.UUID, filter task.HistoryFilter) ([]*task.StatusHistoryEvent, error)
}
